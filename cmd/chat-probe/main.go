// Command chat-probe opens one authenticated socket, sends frames typed on stdin
// and prints every frame the server pushes back.
//
// Each input line is "<event> <json payload>", for example:
//
//	private message {"conversationId":"...","clientMessageId":"c1","text":"hi"}
//	status:get {"userId":"..."}
package main

import (
	"bufio"
	"chat-relay/auth"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gookit/color"
	"github.com/gorilla/websocket"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	URL string `envconfig:"PROBE_URL" default:"ws://localhost:8080/ws"`
	// PROBE_TOKEN wins over minting from PROBE_JWT_SECRET and PROBE_USER_ID
	Token     string `envconfig:"PROBE_TOKEN"`
	JWTSecret string `envconfig:"PROBE_JWT_SECRET"`
	UserID    string `envconfig:"PROBE_USER_ID"`
	// PROBE_COLOURS enables colorized output for better readability
	Colours bool `envconfig:"PROBE_COLOURS" default:"true"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "chat-probe: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return err
	}
	token, err := resolveToken(cfg)
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := websocket.DefaultDialer.Dial(cfg.URL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (HTTP %d)", cfg.URL, err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", cfg.URL, err)
	}
	defer conn.Close()
	printLine(cfg, color.FgGreen, "connected to "+cfg.URL)

	if cfg.UserID != "" {
		if err := send(conn, "join", fmt.Sprintf(`{"_id":%q}`, cfg.UserID)); err != nil {
			return err
		}
		printLine(cfg, color.FgCyan, "-> join "+cfg.UserID)
	}

	go func() {
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				printLine(cfg, color.FgRed, "connection closed: "+err.Error())
				os.Exit(0)
			}
			printLine(cfg, color.FgYellow, "<- "+string(frame))
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		name, payload := splitLine(line)
		if err := send(conn, name, payload); err != nil {
			printLine(cfg, color.FgRed, err.Error())
			continue
		}
		printLine(cfg, color.FgCyan, "-> "+line)
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return scanner.Err()
}

func resolveToken(cfg Config) (string, error) {
	if cfg.Token != "" {
		return cfg.Token, nil
	}
	if cfg.JWTSecret == "" || cfg.UserID == "" {
		return "", fmt.Errorf("set PROBE_TOKEN, or PROBE_JWT_SECRET with PROBE_USER_ID")
	}
	return auth.NewTokenManager(cfg.JWTSecret, time.Hour).GenerateToken(cfg.UserID)
}

// splitLine cuts at the first brace because event names may contain spaces.
func splitLine(line string) (string, string) {
	i := strings.Index(line, "{")
	if i < 0 {
		return line, "null"
	}
	return strings.TrimSpace(line[:i]), line[i:]
}

func send(conn *websocket.Conn, name, payload string) error {
	if !json.Valid([]byte(payload)) {
		return fmt.Errorf("payload is not valid JSON: %s", payload)
	}
	frame, err := json.Marshal(struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}{Event: name, Data: json.RawMessage(payload)})
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func printLine(cfg Config, c color.Color, text string) {
	if cfg.Colours {
		fmt.Println(c.Render(text))
		return
	}
	fmt.Println(text)
}
