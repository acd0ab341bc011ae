package testutil

import (
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/memory"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
)

// TestIMAPServer is an in-memory IMAP server for tests. The memory backend
// ships one user with credentials username/password and an INBOX.
type TestIMAPServer struct {
	Server  *server.Server
	Address string
	Backend *memory.Backend
}

// NewTestIMAPServer starts the server on a random local port and shuts it
// down when the test ends.
func NewTestIMAPServer(t *testing.T) *TestIMAPServer {
	t.Helper()

	be := memory.New()
	s := server.New(be)
	s.AllowInsecureAuth = true

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	go func() {
		if err := s.Serve(listener); err != nil {
			t.Logf("IMAP server stopped: %v", err)
		}
	}()

	t.Cleanup(func() {
		_ = s.Close()
	})

	return &TestIMAPServer{
		Server:  s,
		Address: listener.Addr().String(),
		Backend: be,
	}
}

// Username returns the memory backend's built-in test username.
func (s *TestIMAPServer) Username() string { return "username" }

// Password returns the memory backend's built-in test password.
func (s *TestIMAPServer) Password() string { return "password" }

// Host returns the listen host.
func (s *TestIMAPServer) Host() string {
	host, _, _ := net.SplitHostPort(s.Address)
	return host
}

// Port returns the listen port.
func (s *TestIMAPServer) Port() int {
	_, portStr, _ := net.SplitHostPort(s.Address)
	var port int
	_, _ = fmt.Sscanf(portStr, "%d", &port)
	return port
}

// Connect opens an authenticated client connection; it is closed when the
// test ends.
func (s *TestIMAPServer) Connect(t *testing.T) *imapclient.Client {
	t.Helper()

	c, err := imapclient.Dial(s.Address)
	if err != nil {
		t.Fatalf("Failed to connect to test server: %v", err)
	}
	if err := c.Login(s.Username(), s.Password()); err != nil {
		_ = c.Logout()
		t.Fatalf("Failed to login: %v", err)
	}

	t.Cleanup(func() {
		_ = c.Logout()
	})
	return c
}

// CreateFolder adds a folder for the test user.
func (s *TestIMAPServer) CreateFolder(t *testing.T, name string) {
	t.Helper()

	c := s.Connect(t)
	if err := c.Create(name); err != nil {
		t.Fatalf("Failed to create folder %s: %v", name, err)
	}
}

// AddMessage appends an RFC 822 message to a folder and returns its UID.
func (s *TestIMAPServer) AddMessage(t *testing.T, folder, messageID, from, to, subject, body string, flags ...string) uint32 {
	t.Helper()

	c := s.Connect(t)
	raw := fmt.Sprintf("Message-ID: <%s>\r\n"+
		"Date: %s\r\n"+
		"From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"Content-Type: text/plain; charset=utf-8\r\n"+
		"\r\n"+
		"%s\r\n",
		messageID, time.Now().Format(time.RFC1123Z), from, to, subject, body)

	if err := c.Append(folder, flags, time.Now(), strings.NewReader(raw)); err != nil {
		t.Fatalf("Failed to append message: %v", err)
	}

	if _, err := c.Select(folder, false); err != nil {
		t.Fatalf("Failed to select folder: %v", err)
	}
	criteria := imap.NewSearchCriteria()
	criteria.Header.Add("Message-ID", "<"+messageID+">")
	uids, err := c.UidSearch(criteria)
	if err != nil {
		t.Fatalf("Failed to search for message: %v", err)
	}
	if len(uids) == 0 {
		t.Fatal("Message not found after append")
	}
	return uids[0]
}
