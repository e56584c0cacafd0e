package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/vittahq/bridge/internal/config"
	"github.com/vittahq/bridge/internal/session"
)

func main() {
	addrFlag := flag.String("addr", "", "daemon address (overrides config)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := &client{
		base: resolveBaseURL(*addrFlag),
		http: &http.Client{Timeout: 20 * time.Second},
	}

	switch args[0] {
	case "status":
		cmdStatus(c, *jsonFlag)
	case "pairing":
		cmdPairing(c, *jsonFlag)
	case "chats":
		cmdChats(c, *jsonFlag)
	case "messages":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: bridgectl messages <conversation-id>")
			os.Exit(1)
		}
		cmdMessages(c, args[1], *jsonFlag)
	case "read":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: bridgectl read <conversation-id>")
			os.Exit(1)
		}
		cmdRead(c, args[1])
	case "send":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: bridgectl send <to> <text>")
			os.Exit(1)
		}
		cmdSend(c, args[1], strings.Join(args[2:], " "), *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: bridgectl [--addr <host:port>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status               Show connection status")
	fmt.Fprintln(os.Stderr, "  pairing              Show pairing QR code, if one is outstanding")
	fmt.Fprintln(os.Stderr, "  chats                List conversations")
	fmt.Fprintln(os.Stderr, "  messages <id>        Show messages in a conversation")
	fmt.Fprintln(os.Stderr, "  read <id>            Mark a conversation as read")
	fmt.Fprintln(os.Stderr, "  send <to> <text>     Send a text message")
}

// resolveBaseURL turns a listen address like ":3001" into a base URL,
// falling back to the configured address.
func resolveBaseURL(override string) string {
	addr := override
	if addr == "" {
		if cfg, err := config.Load(session.ConfigPath()); err == nil {
			addr = cfg.HTTPAddr
		} else {
			addr = config.DefaultHTTPAddr
		}
	}
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimSuffix(addr, "/")
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

type client struct {
	base string
	http *http.Client
}

func (c *client) get(path string, out any) error {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		return fmt.Errorf("cannot reach daemon at %s: %w", c.base, err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func (c *client) post(path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	resp, err := c.http.Post(c.base+path, "application/json", &buf)
	if err != nil {
		return fmt.Errorf("cannot reach daemon at %s: %w", c.base, err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (%d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("daemon returned %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func cmdStatus(c *client, jsonOut bool) {
	var resp struct {
		Connected   bool   `json:"connected"`
		State       string `json:"state"`
		RetryCount  int    `json:"retry_count"`
		NextRetryAt int64  `json:"next_retry_at"`
	}
	if err := c.get("/status", &resp); err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	fmt.Printf("State:     %s\n", resp.State)
	fmt.Printf("Connected: %v\n", resp.Connected)
	if resp.RetryCount > 0 {
		fmt.Printf("Retries:   %d\n", resp.RetryCount)
	}
	if resp.NextRetryAt > 0 {
		fmt.Printf("Next try:  %s\n", time.Unix(resp.NextRetryAt, 0).Format(time.RFC3339))
	}
}

func cmdPairing(c *client, jsonOut bool) {
	var resp struct {
		Connected bool    `json:"connected"`
		Token     *string `json:"token"`
	}
	if err := c.get("/pairing", &resp); err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	if resp.Connected {
		fmt.Println("Already paired and connected.")
		return
	}
	if resp.Token == nil {
		fmt.Println("No pairing token outstanding. Is the daemon starting up?")
		return
	}
	fmt.Println("Scan this code with WhatsApp on your phone:")
	fmt.Println()
	fmt.Print(renderQR(*resp.Token))
}

func cmdChats(c *client, jsonOut bool) {
	var chats []struct {
		ID             string `json:"id"`
		Name           string `json:"name"`
		Preview        string `json:"preview"`
		LastActivityAt int64  `json:"last_activity_at"`
		UnreadCount    int    `json:"unread_count"`
	}
	if err := c.get("/conversations", &chats); err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(chats)
		return
	}
	if len(chats) == 0 {
		fmt.Println("No conversations yet.")
		return
	}
	for _, chat := range chats {
		unread := ""
		if chat.UnreadCount > 0 {
			unread = fmt.Sprintf(" (%d unread)", chat.UnreadCount)
		}
		fmt.Printf("%-25s %s%s\n", chat.Name, chat.Preview, unread)
		fmt.Printf("  %s\n", chat.ID)
	}
}

func cmdMessages(c *client, id string, jsonOut bool) {
	var msgs []struct {
		ID        string `json:"id"`
		Sender    string `json:"sender"`
		Body      string `json:"body"`
		FromMe    bool   `json:"from_me"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := c.get("/messages/"+id, &msgs); err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(msgs)
		return
	}
	if len(msgs) == 0 {
		fmt.Println("No messages.")
		return
	}
	for _, m := range msgs {
		who := m.Sender
		if m.FromMe {
			who = "me"
		}
		ts := time.Unix(m.Timestamp, 0).Format("2006-01-02 15:04")
		fmt.Printf("[%s] %s: %s\n", ts, who, m.Body)
	}
}

func cmdRead(c *client, id string) {
	if err := c.post("/conversations/"+id+"/read", nil, nil); err != nil {
		fatal(err)
	}
	fmt.Println("Marked as read.")
}

func cmdSend(c *client, to, text string, jsonOut bool) {
	req := map[string]string{"to": to, "text": text}
	var resp struct {
		ConversationID string `json:"conversation_id"`
		MessageID      string `json:"message_id"`
	}
	if err := c.post("/send", req, &resp); err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	fmt.Printf("Sent %s to %s\n", resp.MessageID, resp.ConversationID)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}

// renderQR converts a string to a compact ASCII QR code using Unicode
// half-block characters. Two bitmap rows become one terminal line.
func renderQR(content string) string {
	qr, err := qrcode.New(content, qrcode.Low)
	if err != nil {
		return "  (QR generation failed: " + err.Error() + ")"
	}
	qr.DisableBorder = false

	bitmap := qr.Bitmap()
	rows := len(bitmap)
	cols := 0
	if rows > 0 {
		cols = len(bitmap[0])
	}

	var sb strings.Builder
	for y := 0; y < rows; y += 2 {
		sb.WriteString("  ")
		for x := 0; x < cols; x++ {
			top := bitmap[y][x]
			bot := false
			if y+1 < rows {
				bot = bitmap[y+1][x]
			}
			switch {
			case top && bot:
				sb.WriteRune('█')
			case top && !bot:
				sb.WriteRune('▀')
			case !top && bot:
				sb.WriteRune('▄')
			default:
				sb.WriteRune(' ')
			}
		}
		sb.WriteRune('\n')
	}
	return sb.String()
}
