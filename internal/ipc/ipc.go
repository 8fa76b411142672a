package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"runtime"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Maphikza/cardano-community-suite/internal/apperrors"
	"github.com/Maphikza/cardano-community-suite/internal/logger"
)

const windowsSocketPort = ":7071"

// maxLine bounds a single request or response line.
const maxLine = 1 << 20

var osType = runtime.GOOS

func listen(socketPath string) (net.Listener, error) {
	if osType == "windows" {
		return net.Listen("tcp", windowsSocketPort)
	}
	if _, err := os.Stat(socketPath); err == nil {
		if err := os.Remove(socketPath); err != nil {
			return nil, fmt.Errorf("failed to remove existing socket file: %v", err)
		}
	}
	return net.Listen("unix", socketPath)
}

func dial(socketPath string) (net.Conn, error) {
	if osType == "windows" {
		return net.Dial("tcp", windowsSocketPort)
	}
	return net.Dial("unix", socketPath)
}

// NewServer listens on socketPath (a TCP port on Windows) and starts accepting clients.
func NewServer(socketPath string, log *logrus.Entry) (*Server, error) {
	listener, err := listen(socketPath)
	if err != nil {
		return nil, err
	}
	return newServer(listener, log), nil
}

func newServer(listener net.Listener, log *logrus.Entry) *Server {
	server := &Server{
		listener:    listener,
		commands:    make(chan Command),
		connections: make(map[uint64]pending),
		closed:      make(chan struct{}),
		log:         logger.OrDiscard(log),
	}
	go server.accept()
	return server
}

func (s *Server) accept() {
	for {
		c, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			s.log.WithError(err).Error("ipc accept failed")
			return
		}
		go s.handleConnection(&conn{Conn: c})
	}
}

func (s *Server) handleConnection(c *conn) {
	defer c.Close()

	scanner := bufio.NewScanner(c)
	scanner.Buffer(make([]byte, 64*1024), maxLine)
	for scanner.Scan() {
		var cmd Command
		if err := json.Unmarshal(scanner.Bytes(), &cmd); err != nil {
			s.write(c, Response{Error: &Error{Code: apperrors.ReasonMalformedInput, Message: "cannot parse command"}})
			continue
		}

		s.mutex.Lock()
		s.nextID++
		internal := s.nextID
		s.connections[internal] = pending{conn: c, clientID: cmd.ID}
		s.mutex.Unlock()

		cmd.ID = internal
		select {
		case s.commands <- cmd:
		case <-s.closed:
			return
		}
	}
	if err := scanner.Err(); err != nil {
		s.log.WithError(err).Debug("ipc connection closed")
	}
}

// Commands delivers every request received on any connection.
func (s *Server) Commands() <-chan Command {
	return s.commands
}

// SendResponse answers the command with the given ID.
func (s *Server) SendResponse(id uint64, result any, err error) {
	s.mutex.Lock()
	p, exists := s.connections[id]
	delete(s.connections, id)
	s.mutex.Unlock()
	if !exists {
		s.log.WithField("id", id).Warn("connection for command not found")
		return
	}

	resp := Response{ID: p.clientID}
	if err != nil {
		resp.Error = &Error{Code: apperrors.Reason(err), Message: err.Error()}
	} else {
		data, mErr := json.Marshal(result)
		if mErr != nil {
			resp.Error = &Error{Code: apperrors.ReasonInternal, Message: mErr.Error()}
		} else {
			resp.Result = data
		}
	}
	s.write(p.conn, resp)
}

func (s *Server) write(c *conn, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.WithError(err).Error("marshal ipc response")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.Write(append(data, '\n')); err != nil {
		s.log.WithError(err).Debug("write ipc response")
	}
}

// Serve dispatches commands to h until ctx is cancelled or the server is closed. Each
// command runs in its own goroutine; Wait blocks until they have all returned.
func (s *Server) Serve(ctx context.Context, h Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closed:
			return
		case cmd := <-s.commands:
			if !s.track() {
				s.SendResponse(cmd.ID, nil, errors.Wrap(apperrors.ErrUnavailable, "server is shutting down"))
				return
			}
			go func(cmd Command) {
				defer s.inflight.Done()
				result, err := h(ctx, cmd)
				s.SendResponse(cmd.ID, result, err)
			}(cmd)
		}
	}
}

// track registers one more running handler unless the server has been closed.
func (s *Server) track() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	select {
	case <-s.closed:
		return false
	default:
	}
	s.inflight.Add(1)
	return true
}

func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Close stops accepting connections and commands. Handlers already running keep going;
// call Wait to block until they finish.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mutex.Lock()
		close(s.closed)
		s.mutex.Unlock()
		err = s.listener.Close()
	})
	return err
}

// Wait blocks until every handler started by Serve has returned or ctx is done. It is
// meant to be called after Close.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for ipc handlers")
	}
}

func NewClient(socketPath string) (*Client, error) {
	c, err := dial(socketPath)
	if err != nil {
		return nil, err
	}
	return &Client{conn: c, reader: bufio.NewReaderSize(c, 64*1024)}, nil
}

// Call sends one command and decodes its result into out, which may be nil.
func (c *Client) Call(ctx context.Context, command string, params, out any) error {
	cmd := Command{ID: atomic.AddUint64(&c.nextID, 1), Command: command}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return errors.Wrap(err, "error marshaling params")
		}
		cmd.Params = raw
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return errors.Wrap(err, "error marshaling command")
	}

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
	}
	if _, err := c.conn.Write(append(data, '\n')); err != nil {
		return errors.Wrap(err, "error writing command to connection")
	}

	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return errors.Wrap(err, "error reading response from connection")
	}
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return errors.Wrap(err, "error unmarshaling response")
	}
	if resp.Error != nil {
		return resp.Error
	}
	if out != nil && len(resp.Result) > 0 {
		return json.Unmarshal(resp.Result, out)
	}
	return nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}
