// Package oracle looks up on-chain stake for a stake address. It is read-only and is never
// consulted by verification or registration.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Maphikza/cardano-community-suite/internal/apperrors"
	"github.com/Maphikza/cardano-community-suite/internal/logger"
	"github.com/Maphikza/cardano-community-suite/internal/models"
	"github.com/Maphikza/cardano-community-suite/lib/cardano"
)

const lovelacePerADA = 1_000_000

type Oracle interface {
	LookupStake(ctx context.Context, stakeAddress string) (*models.StakeInfo, error)
}

// Koios queries the account_info endpoint of a Koios instance.
type Koios struct {
	baseURL string
	client  *http.Client
	now     func() time.Time
	log     *logrus.Entry
}

func NewKoios(baseURL string, timeout time.Duration, log *logrus.Entry) *Koios {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Koios{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		now:     time.Now,
		log:     logger.OrDiscard(log),
	}
}

type accountInfo struct {
	StakeAddress     string `json:"stake_address"`
	Status           string `json:"status"`
	DelegatedPool    string `json:"delegated_pool"`
	TotalBalance     string `json:"total_balance"`
	RewardsAvailable string `json:"rewards_available"`
}

func (k *Koios) LookupStake(ctx context.Context, stakeAddress string) (*models.StakeInfo, error) {
	if err := cardano.ValidateStakeAddress(stakeAddress); err != nil {
		return nil, err
	}

	body, err := json.Marshal(map[string][]string{"_stake_addresses": {stakeAddress}})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.baseURL+"/account_info", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build oracle request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := k.client.Do(req)
	if err != nil {
		return nil, apperrors.Unavailable(err, "stake oracle")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, apperrors.Unavailable(fmt.Errorf("status %d: %s", resp.StatusCode, snippet), "stake oracle")
	}

	var accounts []accountInfo
	if err := json.NewDecoder(resp.Body).Decode(&accounts); err != nil {
		return nil, apperrors.Unavailable(err, "decode stake oracle response")
	}
	if len(accounts) == 0 {
		return nil, errors.Wrapf(apperrors.ErrNotFound, "stake address %s", stakeAddress)
	}

	acc := accounts[0]
	amount, err := parseLovelace(acc.TotalBalance)
	if err != nil {
		return nil, apperrors.Unavailable(err, "parse total_balance")
	}
	rewards, err := parseLovelace(acc.RewardsAvailable)
	if err != nil {
		return nil, apperrors.Unavailable(err, "parse rewards_available")
	}

	k.log.WithField("stake_address", stakeAddress).Debug("stake looked up")
	return &models.StakeInfo{
		StakeAddress:  stakeAddress,
		Amount:        amount,
		AmountADA:     float64(amount) / lovelacePerADA,
		DelegatedPool: acc.DelegatedPool,
		Rewards:       rewards,
		Status:        acc.Status,
		FetchedAt:     k.now().Unix(),
	}, nil
}

// Koios reports lovelace amounts as decimal strings.
func parseLovelace(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 10, 64)
}

// Cached memoises successful lookups for a fixed TTL. Failures are not cached.
type Cached struct {
	next  Oracle
	cache *expirable.LRU[string, *models.StakeInfo]
}

func NewCached(next Oracle, size int, ttl time.Duration) *Cached {
	if size <= 0 {
		size = 1024
	}
	return &Cached{
		next:  next,
		cache: expirable.NewLRU[string, *models.StakeInfo](size, nil, ttl),
	}
}

func (c *Cached) LookupStake(ctx context.Context, stakeAddress string) (*models.StakeInfo, error) {
	if info, ok := c.cache.Get(stakeAddress); ok {
		cp := *info
		return &cp, nil
	}
	info, err := c.next.LookupStake(ctx, stakeAddress)
	if err != nil {
		return nil, err
	}
	stored := *info
	c.cache.Add(stakeAddress, &stored)
	return info, nil
}

// Len is the number of cached lookups.
func (c *Cached) Len() int { return c.cache.Len() }
