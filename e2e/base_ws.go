package e2e

import (
	"bytes"
	"chat-relay/auth"
	"chat-relay/domain"
	"chat-relay/transport/ws"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gookit/color"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"
)

type BaseWsSuite struct {
	suite.Suite
	Config Config
	tokens *auth.TokenManager
}

// SetupSuite loads the environment configuration and skips when no server is targeted
func (s *BaseWsSuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	if s.Config.ServerURL == "" || s.Config.JWTSecret == "" {
		s.T().Skip("E2E_SERVER_URL and E2E_JWT_SECRET are required")
	}
	s.tokens = auth.NewTokenManager(s.Config.JWTSecret, time.Hour)
}

func (s *BaseWsSuite) step(name string) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	s.T().Log(header)
}

func (s *BaseWsSuite) bearer(userID domain.ID) http.Header {
	token, err := s.tokens.GenerateToken(userID.Hex())
	s.Require().NoError(err)
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	return header
}

// Dial opens an authenticated socket for userID and joins it.
func (s *BaseWsSuite) Dial(name string, userID domain.ID) *websocket.Conn {
	s.step(name)
	url := "ws" + strings.TrimPrefix(s.Config.ServerURL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, s.bearer(userID))
	s.Require().NoError(err, "Failed to open socket at "+url)
	s.Send(conn, ws.EventJoin, ws.JoinPayload{ID: userID.Hex()})
	return conn
}

func (s *BaseWsSuite) Send(conn *websocket.Conn, event string, payload any) {
	data, err := json.Marshal(payload)
	s.Require().NoError(err)
	s.Require().NoError(conn.WriteJSON(ws.Envelope{Event: event, Data: data}))
}

// Expect reads frames until one named event arrives and decodes its data into out.
func (s *BaseWsSuite) Expect(conn *websocket.Conn, event string, out any) {
	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(5 * time.Second)))
	for {
		var env ws.Envelope
		s.Require().NoError(conn.ReadJSON(&env), "waiting for "+event)
		if s.Config.DebugJSON {
			s.T().Logf("FRAME %s: %s", env.Event, env.Data)
		}
		if env.Event == event {
			s.Require().NoError(json.Unmarshal(env.Data, out))
			return
		}
	}
}

// Call performs an authenticated REST call and decodes the JSON answer into out.
func (s *BaseWsSuite) Call(method, path string, userID domain.ID, body any, out any) int {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.Config.ServerURL+path, reader)
	s.Require().NoError(err)
	req.Header = s.bearer(userID)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.T().Logf("HTTP %s %s [%d] in %v", method, path, resp.StatusCode, time.Since(start))

	if out != nil {
		s.Require().NoError(json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}
