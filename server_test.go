package magpie

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
)

// testServerOpts shapes the behavior of the scripted test server.
type testServerOpts struct {
	// features are extra EHLO lines, e.g. "AUTH PLAIN LOGIN", "8BITMIME".
	features []string
	// rejectFrom maps MAIL FROM addresses to a rejection code.
	rejectFrom map[string]int
	// rejectRecipients maps RCPT TO addresses to a rejection code.
	rejectRecipients map[string]int
	// rejectData rejects the content of every transaction with this code.
	rejectData int
	// failAuth rejects every AUTH attempt with 535.
	failAuth bool
	// dropAtData drops the connection without a reply while receiving the
	// Nth message's content (1-based). 0 disables.
	dropAtData int
}

// testServer is a minimal scripted submission server on a loopback port.
type testServer struct {
	listener net.Listener

	mu       sync.Mutex
	froms    []string
	rcpts    [][]string
	messages []string
}

func startTestServer(t *testing.T, opts testServerOpts) *testServer {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to start test server: %s", err)
	}
	srv := &testServer{listener: listener}
	t.Cleanup(func() { listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go srv.handle(conn, opts)
		}
	}()
	return srv
}

func (srv *testServer) port() int {
	return srv.listener.Addr().(*net.TCPAddr).Port
}

func (srv *testServer) config() Config {
	return Config{Host: "127.0.0.1", Port: srv.port(), Security: SecurityNone}
}

// received returns the envelope senders, recipients and contents the
// server accepted, one entry per completed transaction.
func (srv *testServer) received() ([]string, [][]string, []string) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return append([]string(nil), srv.froms...),
		append([][]string(nil), srv.rcpts...),
		append([]string(nil), srv.messages...)
}

func (srv *testServer) handle(conn net.Conn, opts testServerOpts) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	reply := func(lines ...string) bool {
		for _, l := range lines {
			writer.WriteString(l + "\r\n")
		}
		return writer.Flush() == nil
	}

	if !reply("220 mail.test.local ESMTP ready") {
		return
	}

	var from string
	var rcpts []string
	dataCount := 0

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		cmd := strings.ToUpper(line)

		switch {
		case strings.HasPrefix(cmd, "EHLO"):
			if len(opts.features) == 0 {
				reply("250 mail.test.local greets you")
				continue
			}
			lines := []string{"250-mail.test.local greets you"}
			for i, f := range opts.features {
				sep := "-"
				if i == len(opts.features)-1 {
					sep = " "
				}
				lines = append(lines, "250"+sep+f)
			}
			reply(lines...)

		case strings.HasPrefix(cmd, "HELO"):
			reply("250 mail.test.local")

		case strings.HasPrefix(cmd, "AUTH"):
			if opts.failAuth {
				reply("535 5.7.8 authentication credentials invalid")
				continue
			}
			if strings.HasPrefix(cmd, "AUTH PLAIN") && len(strings.Fields(line)) > 2 {
				reply("235 2.7.0 authentication successful")
				continue
			}
			// LOGIN flow: prompt, consume two lines, accept.
			reply("334 VXNlcm5hbWU6")
			if _, err := reader.ReadString('\n'); err != nil {
				return
			}
			reply("334 UGFzc3dvcmQ6")
			if _, err := reader.ReadString('\n'); err != nil {
				return
			}
			reply("235 2.7.0 authentication successful")

		case strings.HasPrefix(cmd, "MAIL FROM:"):
			from = extractAngleAddr(line)
			if code, ok := opts.rejectFrom[from]; ok {
				reply(fmt.Sprintf("%d 5.1.8 sender rejected", code))
				continue
			}
			rcpts = nil
			reply("250 2.1.0 sender ok")

		case strings.HasPrefix(cmd, "RCPT TO:"):
			addr := extractAngleAddr(line)
			if code, ok := opts.rejectRecipients[addr]; ok {
				reply(fmt.Sprintf("%d 5.1.1 no such user", code))
				continue
			}
			rcpts = append(rcpts, addr)
			reply("250 2.1.5 recipient ok")

		case cmd == "DATA":
			dataCount++
			if !reply("354 end data with <CRLF>.<CRLF>") {
				return
			}
			var content strings.Builder
			for {
				dline, err := reader.ReadString('\n')
				if err != nil {
					return
				}
				if opts.dropAtData == dataCount {
					return
				}
				if strings.TrimRight(dline, "\r\n") == "." {
					break
				}
				content.WriteString(dline)
			}
			if opts.rejectData != 0 {
				reply(fmt.Sprintf("%d 5.6.0 content rejected", opts.rejectData))
				continue
			}
			srv.mu.Lock()
			srv.froms = append(srv.froms, from)
			srv.rcpts = append(srv.rcpts, append([]string(nil), rcpts...))
			srv.messages = append(srv.messages, content.String())
			queueID := fmt.Sprintf("TESTQ%04d", len(srv.messages))
			srv.mu.Unlock()
			reply(fmt.Sprintf("250 2.0.0 ok: queued as %s", queueID))

		case cmd == "RSET":
			from = ""
			rcpts = nil
			reply("250 2.0.0 ok")

		case cmd == "NOOP":
			reply("250 2.0.0 ok")

		case cmd == "QUIT":
			reply("221 2.0.0 bye")
			return

		default:
			reply("500 5.5.2 command not recognized")
		}
	}
}

// extractAngleAddr pulls the address out of "MAIL FROM:<addr> params".
func extractAngleAddr(line string) string {
	start := strings.Index(line, "<")
	end := strings.Index(line, ">")
	if start < 0 || end < start {
		return ""
	}
	return line[start+1 : end]
}
