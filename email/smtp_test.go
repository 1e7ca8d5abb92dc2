package email

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"testing"

	mail "github.com/wneessen/go-mail"
)

// fakeSMTP accepts connections and answers RCPT TO with rcptReply.
func fakeSMTP(t *testing.T, rcptReply string) (port int, conns *atomic.Int32) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	conns = &atomic.Int32{}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			conns.Add(1)
			go serveSMTP(c, rcptReply)
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port, conns
}

func serveSMTP(c net.Conn, rcptReply string) {
	defer func() { _ = c.Close() }()
	r := bufio.NewReader(c)
	reply := func(s string) { _, _ = fmt.Fprintf(c, "%s\r\n", s) }

	reply("220 localhost ESMTP")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.ToUpper(strings.TrimSpace(line))
		switch {
		case strings.HasPrefix(cmd, "EHLO"):
			reply("250-localhost")
			reply("250 8BITMIME")
		case strings.HasPrefix(cmd, "RCPT"):
			reply(rcptReply)
		case strings.HasPrefix(cmd, "QUIT"):
			reply("221 bye")
			return
		default:
			reply("250 OK")
		}
	}
}

func TestSMTPProviderRejectedRecipientNotRetried(t *testing.T) {
	port, conns := fakeSMTP(t, "550 5.1.1 no such user")

	p := NewSMTPProvider(SMTPConfig{
		Host:    "127.0.0.1",
		Port:    port,
		From:    "from@example.com",
		TLSMode: "disabled",
	}, discardLogger())

	err := p.Send(context.Background(), "nobody@example.com", "s", "<p>b</p>")
	var se *mail.SendError
	if !errors.As(err, &se) {
		t.Fatalf("Send() error = %v, want *mail.SendError", err)
	}
	if se.ErrorCode() != 550 {
		t.Errorf("ErrorCode() = %d, want 550", se.ErrorCode())
	}
	if got := conns.Load(); got != 1 {
		t.Errorf("connections = %d, want 1", got)
	}
}

func TestPermanentSMTPError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "bad recipient list", err: &mail.SendError{Reason: mail.ErrGetRcpts}, want: true},
		{name: "wrapped bad sender", err: fmt.Errorf("send: %w", &mail.SendError{Reason: mail.ErrGetSender}), want: true},
		{name: "connection check", err: &mail.SendError{Reason: mail.ErrConnCheck}},
		{name: "dial failure", err: errors.New("dial tcp: connection refused")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := permanentSMTPError(tt.err); got != tt.want {
				t.Errorf("permanentSMTPError() = %v, want %v", got, tt.want)
			}
		})
	}
}
