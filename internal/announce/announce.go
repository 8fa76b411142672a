// Package announce tells the outside world about new registrations. Announcements are
// best-effort: they run after the registration is durable and never fail it.
package announce

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Maphikza/cardano-community-suite/internal/logger"
	"github.com/Maphikza/cardano-community-suite/internal/models"
)

// Notifier receives every registry entry right after it is committed.
type Notifier interface {
	Registered(entry *models.RegistryEntry)
}

// Nop ignores registrations.
type Nop struct{}

func (Nop) Registered(*models.RegistryEntry) {}

// Publisher is the part of a relay connection the announcer uses.
type Publisher interface {
	Publish(ctx context.Context, event nostr.Event) error
}

// Dialer opens a publisher for a relay URL.
type Dialer func(ctx context.Context, url string) (Publisher, error)

func dialRelay(ctx context.Context, url string) (Publisher, error) {
	relay, err := nostr.RelayConnect(ctx, url)
	if err != nil {
		return nil, err
	}
	return relay, nil
}

// Nostr publishes a kind-1 note per registration to every configured relay.
type Nostr struct {
	relays  []string
	sk      string
	pk      string
	dial    Dialer
	timeout time.Duration
	log     *logrus.Entry
	wg      sync.WaitGroup
}

// NewNostr returns an announcer signing with privateKeyHex. An empty key generates an
// ephemeral identity.
func NewNostr(relays []string, privateKeyHex string, log *logrus.Entry) (*Nostr, error) {
	if len(relays) == 0 {
		return nil, errors.New("no nostr relays configured")
	}
	if privateKeyHex == "" {
		privateKeyHex = nostr.GeneratePrivateKey()
	}
	pk, err := nostr.GetPublicKey(privateKeyHex)
	if err != nil {
		return nil, errors.Wrap(err, "invalid nostr private key")
	}
	return &Nostr{
		relays:  relays,
		sk:      privateKeyHex,
		pk:      pk,
		dial:    dialRelay,
		timeout: 10 * time.Second,
		log:     logger.OrDiscard(log),
	}, nil
}

// WithDialer swaps the relay dialer.
func (n *Nostr) WithDialer(d Dialer) *Nostr {
	n.dial = d
	return n
}

// PublicKey is the hex public key announcements are signed with.
func (n *Nostr) PublicKey() string { return n.pk }

func (n *Nostr) Registered(entry *models.RegistryEntry) {
	ev, err := n.event(entry)
	if err != nil {
		n.log.WithError(err).Warn("build registration note")
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()
		n.publish(ctx, ev)
	}()
}

// Wait blocks until in-flight announcements finish.
func (n *Nostr) Wait() { n.wg.Wait() }

func (n *Nostr) event(entry *models.RegistryEntry) (nostr.Event, error) {
	ev := nostr.Event{
		PubKey:    n.pk,
		CreatedAt: nostr.Timestamp(entry.VerifiedAt),
		Kind:      nostr.KindTextNote,
		Tags: nostr.Tags{
			{"t", entry.CommunityID},
			{"cardano", entry.WalletAddress},
		},
		Content: fmt.Sprintf("%s verified membership of %s", entry.WalletAddress, entry.CommunityID),
	}
	if err := ev.Sign(n.sk); err != nil {
		return ev, err
	}
	return ev, nil
}

func (n *Nostr) publish(ctx context.Context, ev nostr.Event) {
	for _, url := range n.relays {
		log := n.log.WithField("relay", url)
		pub, err := n.dial(ctx, url)
		if err != nil {
			log.WithError(err).Warn("connect relay")
			continue
		}
		if err := pub.Publish(ctx, ev); err != nil {
			log.WithError(err).Warn("publish registration note")
			continue
		}
		log.WithField("event_id", ev.ID).Debug("registration announced")
	}
}
