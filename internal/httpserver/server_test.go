package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/registry"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/relay"
	"github.com/wilsonzlin/aero/proxy/webrtc-room-signaling/internal/signaling"
)

func baseConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		ListenAddr:               "127.0.0.1:0",
		LogFormat:                config.LogFormatText,
		LogLevel:                 slog.LevelInfo,
		ShutdownTimeout:          2 * time.Second,
		Mode:                     config.ModeDev,
		UploadDir:                t.TempDir(),
		MaxUploadBytes:           1 << 20,
		MaxUploadsPerMinutePerIP: 0,
	}
}

func startServer(t *testing.T, cfg config.Config, deps Deps, setup ...func(*Server)) (*Server, string) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	build := BuildInfo{Commit: "abc", BuildTime: "time"}
	srv := New(cfg, log, build, deps)
	for _, fn := range setup {
		fn(srv)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		<-errCh
	})

	return srv, "http://" + ln.Addr().String()
}

func startTestServer(t *testing.T, cfg config.Config) (baseURL string) {
	t.Helper()
	_, baseURL = startServer(t, cfg, Deps{})
	return baseURL
}

func getJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp
}

func TestHealthzReadyzVersion(t *testing.T) {
	baseURL := startTestServer(t, baseConfig(t))

	t.Run("healthz", func(t *testing.T) {
		var body map[string]any
		resp := getJSON(t, baseURL+"/healthz", &body)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
		}
		if body["ok"] != true {
			t.Fatalf("body=%v, want ok=true", body)
		}
	})

	t.Run("readyz", func(t *testing.T) {
		resp := getJSON(t, baseURL+"/readyz", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
		}
	})

	t.Run("version", func(t *testing.T) {
		var got BuildInfo
		resp := getJSON(t, baseURL+"/version", &got)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
		}
		want := BuildInfo{Commit: "abc", BuildTime: "time"}
		if got != want {
			t.Fatalf("got=%+v, want=%+v", got, want)
		}
	})
}

func TestICEEndpointSchema(t *testing.T) {
	cfg := baseConfig(t)
	cfg.ICEServers = []webrtc.ICEServer{
		{URLs: []string{"stun:stun.example.com:3478"}},
		{URLs: []string{"turn:turn.example.com:3478?transport=udp"}, Username: "user", Credential: "pass"},
	}
	baseURL := startTestServer(t, cfg)

	var payload struct {
		ICEServers []map[string]any `json:"iceServers"`
	}
	resp := getJSON(t, baseURL+"/webrtc/ice", &payload)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if len(payload.ICEServers) != 2 {
		t.Fatalf("expected 2 iceServers, got %d", len(payload.ICEServers))
	}
	if _, ok := payload.ICEServers[0]["urls"]; !ok {
		t.Fatalf("expected urls field on first server: %#v", payload.ICEServers[0])
	}
}

func TestICEEndpoint_EmptyListIsArray(t *testing.T) {
	baseURL := startTestServer(t, baseConfig(t))

	resp, err := http.Get(baseURL + "/webrtc/ice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `"iceServers":[]`) {
		t.Fatalf("body=%s, want empty iceServers array", body)
	}
}

func TestICEEndpoint_InjectsTURNRESTCredentials(t *testing.T) {
	cfg := baseConfig(t)
	cfg.ICEServers = []webrtc.ICEServer{
		{URLs: []string{"stun:stun.example.com:3478"}},
		{URLs: []string{"TURN:turn.example.com:3478"}},
	}
	cfg.TURNREST = config.TurnRESTConfig{SharedSecret: "s3cret", TTLSeconds: 60, UsernamePrefix: "aero"}
	baseURL := startTestServer(t, cfg)

	var payload struct {
		ICEServers []struct {
			URLs       []string `json:"urls"`
			Username   string   `json:"username"`
			Credential string   `json:"credential"`
		} `json:"iceServers"`
	}
	resp := getJSON(t, baseURL+"/webrtc/ice", &payload)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("Cache-Control"); got != "no-store" {
		t.Fatalf("Cache-Control=%q, want no-store", got)
	}
	if len(payload.ICEServers) != 2 {
		t.Fatalf("len(iceServers)=%d, want 2", len(payload.ICEServers))
	}
	if payload.ICEServers[0].Username != "" {
		t.Fatalf("stun server got username %q", payload.ICEServers[0].Username)
	}
	turn := payload.ICEServers[1]
	if !strings.Contains(turn.Username, ":aero:anon/") || turn.Credential == "" {
		t.Fatalf("turn server=%+v, want anonymous TURN REST credentials", turn)
	}
}

type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }

func TestICEEndpoint_TURNRESTLeaseBoundToParticipant(t *testing.T) {
	cfg := baseConfig(t)
	cfg.ICEServers = []webrtc.ICEServer{{URLs: []string{"turn:turn.example.com:3478"}}}
	cfg.TURNREST = config.TurnRESTConfig{SharedSecret: "s3cret", TTLSeconds: 60, UsernamePrefix: "aero"}

	reg := registry.New()
	if _, err := reg.Join("conn-1", "standup", registry.StringUserID("alice"), ""); err != nil {
		t.Fatalf("Join: %v", err)
	}
	m := metrics.New()
	_, baseURL := startServer(t, cfg, Deps{
		Registry: reg,
		Metrics:  m,
		Clock:    fixedClock(time.Unix(1_700_000_000, 0)),
	})

	var payload struct {
		ICEServers []struct {
			Username   string `json:"username"`
			Credential string `json:"credential"`
		} `json:"iceServers"`
	}
	resp := getJSON(t, baseURL+"/webrtc/ice?socketId=conn-1", &payload)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d, want 200", resp.StatusCode)
	}
	if len(payload.ICEServers) != 1 {
		t.Fatalf("len(iceServers)=%d, want 1", len(payload.ICEServers))
	}
	if want := "1700000060:aero:standup/conn-1"; payload.ICEServers[0].Username != want {
		t.Fatalf("username=%q, want %q", payload.ICEServers[0].Username, want)
	}
	if payload.ICEServers[0].Credential == "" {
		t.Fatalf("credential is empty")
	}
	if got := m.Get(metrics.TURNLeaseParticipant); got != 1 {
		t.Fatalf("turn_lease_participant=%d, want 1", got)
	}

	resp = getJSON(t, baseURL+"/webrtc/ice?socketId=conn-unknown", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown socket status=%d, want 404", resp.StatusCode)
	}
}

func TestICEEndpoint_RejectsCrossOrigin(t *testing.T) {
	cfg := baseConfig(t)
	cfg.ICEServers = []webrtc.ICEServer{{URLs: []string{"stun:stun.example.com:3478"}}}
	baseURL := startTestServer(t, cfg)

	req, err := http.NewRequest(http.MethodGet, baseURL+"/webrtc/ice", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Origin", "https://evil.example.com")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestCORSPreflightForAllowedOrigin(t *testing.T) {
	cfg := baseConfig(t)
	cfg.AllowedOrigins = []string{"https://app.example.com"}
	baseURL := startTestServer(t, cfg)

	req, err := http.NewRequest(http.MethodOptions, baseURL+"/api/recordings", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "content-type")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status=%d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("Access-Control-Allow-Origin=%q", got)
	}
	if got := resp.Header.Get("Access-Control-Allow-Headers"); got != "content-type" {
		t.Fatalf("Access-Control-Allow-Headers=%q", got)
	}
}

func TestReadyzFailsOnInvalidICEConfig(t *testing.T) {
	t.Setenv("AERO_ICE_SERVERS_JSON", "[")

	cfg, err := config.Load([]string{"--listen-addr", "127.0.0.1:0", "--upload-dir", t.TempDir()})
	if err != nil {
		t.Fatalf("config.Load returned fatal error: %v", err)
	}
	if cfg.ICEConfigError() == nil {
		t.Fatalf("expected ICE config error to be captured for readiness")
	}

	baseURL := startTestServer(t, cfg)

	resp := getJSON(t, baseURL+"/readyz", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestRoomsEndpoints(t *testing.T) {
	reg := registry.New()
	if _, err := reg.Join("c1", "lobby", registry.StringUserID("alice"), "Alice"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if _, err := reg.Join("c2", "lobby", registry.StringUserID("bob"), ""); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if _, err := reg.Join("c3", "standup", registry.StringUserID("carol"), "Carol"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	_, baseURL := startServer(t, baseConfig(t), Deps{Registry: reg})

	t.Run("list", func(t *testing.T) {
		var rooms map[string]roomSummary
		resp := getJSON(t, baseURL+"/api/rooms", &rooms)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status=%d, want 200", resp.StatusCode)
		}
		if len(rooms) != 2 {
			t.Fatalf("len(rooms)=%d, want 2 (%v)", len(rooms), rooms)
		}
		lobby := rooms["lobby"]
		if lobby.UserCount != 2 || len(lobby.Users) != 2 || lobby.Users[0].UserID.String() != "alice" {
			t.Fatalf("lobby=%+v, want alice then bob", lobby)
		}
	})

	t.Run("get", func(t *testing.T) {
		var room roomSummary
		getJSON(t, baseURL+"/api/rooms/standup", &room)
		if room.UserCount != 1 || room.Users[0].Username != "Carol" {
			t.Fatalf("standup=%+v", room)
		}
	})

	t.Run("unknown room is empty", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/api/rooms/nope")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status=%d, want 200", resp.StatusCode)
		}
		if strings.TrimSpace(string(body)) != `{"userCount":0,"users":[]}` {
			t.Fatalf("body=%s", body)
		}
	})
}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("roomId", "lobby"); err != nil {
		t.Fatalf("WriteField: %v", err)
	}
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestUploadRecording(t *testing.T) {
	cfg := baseConfig(t)
	m := &metrics.Metrics{}
	_, baseURL := startServer(t, cfg, Deps{Metrics: m})

	content := []byte("webm-bytes")
	body, contentType := multipartBody(t, "recording", "meeting.WEBM", content)
	resp, err := http.Post(baseURL+"/api/recordings", contentType, body)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status=%d, want 201", resp.StatusCode)
	}
	var got uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasSuffix(got.Filename, ".webm") || got.Size != int64(len(content)) {
		t.Fatalf("upload=%+v, want .webm file of %d bytes", got, len(content))
	}
	if got.URL != "/recordings/"+got.Filename {
		t.Fatalf("url=%q", got.URL)
	}

	stored, err := os.ReadFile(filepath.Join(cfg.UploadDir, got.Filename))
	if err != nil {
		t.Fatalf("read stored file: %v", err)
	}
	if !bytes.Equal(stored, content) {
		t.Fatalf("stored=%q, want %q", stored, content)
	}
	if m.Get(metrics.RecordingUploaded) != 1 {
		t.Fatalf("%s=%d, want 1", metrics.RecordingUploaded, m.Get(metrics.RecordingUploaded))
	}

	served, err := http.Get(baseURL + got.URL)
	if err != nil {
		t.Fatalf("get recording: %v", err)
	}
	defer served.Body.Close()
	servedBody, _ := io.ReadAll(served.Body)
	if served.StatusCode != http.StatusOK || !bytes.Equal(servedBody, content) {
		t.Fatalf("GET %s status=%d body=%q", got.URL, served.StatusCode, servedBody)
	}

	listing, err := http.Get(baseURL + "/recordings/")
	if err != nil {
		t.Fatalf("get listing: %v", err)
	}
	listing.Body.Close()
	if listing.StatusCode != http.StatusNotFound {
		t.Fatalf("directory listing status=%d, want 404", listing.StatusCode)
	}
}

func TestUploadRecording_Errors(t *testing.T) {
	t.Run("missing field", func(t *testing.T) {
		_, baseURL := startServer(t, baseConfig(t), Deps{})
		body, contentType := multipartBody(t, "video", "a.webm", []byte("x"))
		resp, err := http.Post(baseURL+"/api/recordings", contentType, body)
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status=%d, want 400", resp.StatusCode)
		}
	})

	t.Run("not multipart", func(t *testing.T) {
		_, baseURL := startServer(t, baseConfig(t), Deps{})
		resp, err := http.Post(baseURL+"/api/recordings", "application/json", strings.NewReader(`{}`))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status=%d, want 400", resp.StatusCode)
		}
	})

	t.Run("too large", func(t *testing.T) {
		cfg := baseConfig(t)
		cfg.MaxUploadBytes = 1024
		m := &metrics.Metrics{}
		_, baseURL := startServer(t, cfg, Deps{Metrics: m})

		body, contentType := multipartBody(t, "recording", "big.webm", bytes.Repeat([]byte("x"), 4096))
		resp, err := http.Post(baseURL+"/api/recordings", contentType, body)
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusRequestEntityTooLarge {
			t.Fatalf("status=%d, want 413", resp.StatusCode)
		}
		if m.Get(metrics.DropReasonUploadTooLarge) != 1 {
			t.Fatalf("%s=%d, want 1", metrics.DropReasonUploadTooLarge, m.Get(metrics.DropReasonUploadTooLarge))
		}
		entries, err := os.ReadDir(cfg.UploadDir)
		if err != nil {
			t.Fatalf("ReadDir: %v", err)
		}
		if len(entries) != 0 {
			t.Fatalf("partial upload left %d files behind", len(entries))
		}
	})

	t.Run("truncated multipart", func(t *testing.T) {
		for name, raw := range map[string]string{
			"in part headers": "--b\r\nContent-Disposition: form-da",
			"in part body":    "--b\r\nContent-Disposition: form-data; name=\"recording\"; filename=\"a.webm\"\r\n\r\nwebm-by",
		} {
			t.Run(name, func(t *testing.T) {
				cfg := baseConfig(t)
				_, baseURL := startServer(t, cfg, Deps{})
				resp, err := http.Post(baseURL+"/api/recordings", "multipart/form-data; boundary=b", strings.NewReader(raw))
				if err != nil {
					t.Fatalf("post: %v", err)
				}
				resp.Body.Close()
				if resp.StatusCode != http.StatusBadRequest {
					t.Fatalf("status=%d, want 400", resp.StatusCode)
				}
				entries, err := os.ReadDir(cfg.UploadDir)
				if err != nil {
					t.Fatalf("ReadDir: %v", err)
				}
				if len(entries) != 0 {
					t.Fatalf("truncated upload left %d files behind", len(entries))
				}
			})
		}
	})

	t.Run("upload dir unusable", func(t *testing.T) {
		cfg := baseConfig(t)
		cfg.UploadDir = filepath.Join(t.TempDir(), "file")
		if err := os.WriteFile(cfg.UploadDir, []byte("not a dir"), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		_, baseURL := startServer(t, cfg, Deps{})

		body, contentType := multipartBody(t, "recording", "a.webm", []byte("x"))
		resp, err := http.Post(baseURL+"/api/recordings", contentType, body)
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusInternalServerError {
			t.Fatalf("status=%d, want 500", resp.StatusCode)
		}
	})

	t.Run("rate limiter eviction", func(t *testing.T) {
		cfg := baseConfig(t)
		cfg.MaxUploadsPerMinutePerIP = 1
		cfg.RateLimitMaxClients = 1
		m := &metrics.Metrics{}
		srv, _ := startServer(t, cfg, Deps{Metrics: m})

		if !srv.uploadLimiter.Allow("192.0.2.1") || !srv.uploadLimiter.Allow("192.0.2.2") {
			t.Fatalf("first upload from a new client rejected")
		}
		if got := m.Get(metrics.DropReasonLimiterEvicted); got != 1 {
			t.Fatalf("%s=%d, want 1", metrics.DropReasonLimiterEvicted, got)
		}
	})

	t.Run("rate limited", func(t *testing.T) {
		cfg := baseConfig(t)
		cfg.MaxUploadsPerMinutePerIP = 1
		_, baseURL := startServer(t, cfg, Deps{})

		for i, want := range []int{http.StatusCreated, http.StatusTooManyRequests} {
			body, contentType := multipartBody(t, "recording", "a.webm", []byte("x"))
			resp, err := http.Post(baseURL+"/api/recordings", contentType, body)
			if err != nil {
				t.Fatalf("post %d: %v", i, err)
			}
			resp.Body.Close()
			if resp.StatusCode != want {
				t.Fatalf("upload %d status=%d, want %d", i, resp.StatusCode, want)
			}
		}
	})
}

func TestRecordingExt(t *testing.T) {
	cases := map[string]string{
		"a.webm":              ".webm",
		"A.MP4":               ".mp4",
		"noext":               "",
		"../../etc/passwd":    "",
		"x.we bm":             "",
		"x.averyveryverylong": "",
		"dir/clip.mkv":        ".mkv",
	}
	for in, want := range cases {
		if got := recordingExt(in); got != want {
			t.Fatalf("recordingExt(%q)=%q, want %q", in, got, want)
		}
	}
}

func TestStaticDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>rooms</h1>"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg := baseConfig(t)
	cfg.StaticDir = dir
	baseURL := startTestServer(t, cfg)

	resp, err := http.Get(baseURL + "/")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "rooms") {
		t.Fatalf("status=%d body=%q", resp.StatusCode, body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := &metrics.Metrics{}
	m.Inc(metrics.RoomJoin)
	_, baseURL := startServer(t, baseConfig(t), Deps{Metrics: m})

	resp, err := http.Get(baseURL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `aero_room_signaling_events_total{event="room_join"} 1`) {
		t.Fatalf("metrics body missing room_join counter:\n%s", body)
	}
}

func TestSignalingWebSocketThroughMiddleware(t *testing.T) {
	m := &metrics.Metrics{}
	engine := relay.NewEngine(relay.Config{Metrics: m})
	ws := signaling.NewServer(signaling.Config{Engine: engine})
	_, baseURL := startServer(t, baseConfig(t), Deps{Registry: engine.Registry(), Metrics: m}, func(srv *Server) {
		ws.RegisterRoutes(srv.Mux())
	})
	t.Cleanup(ws.Close)

	c, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(baseURL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	if err := c.WriteJSON(map[string]any{"type": "join-room", "payload": map[string]any{"roomId": "lobby", "userId": "alice"}}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var ev relay.Event
		if err := c.ReadJSON(&ev); err != nil {
			t.Fatalf("ReadJSON: %v", err)
		}
		if ev.Type == relay.EventRoomUserCount {
			break
		}
	}

	var room roomSummary
	getJSON(t, baseURL+"/api/rooms/lobby", &room)
	if room.UserCount != 1 || room.Users[0].UserID.String() != "alice" {
		t.Fatalf("lobby=%+v, want alice", room)
	}
}

func TestRequestIDHeader(t *testing.T) {
	baseURL := startTestServer(t, baseConfig(t))

	resp, err := http.Get(baseURL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); len(got) != 36 {
		t.Fatalf("X-Request-ID=%q, want generated uuid", got)
	}

	req, err := http.NewRequest(http.MethodGet, baseURL+"/healthz", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("X-Request-ID", "trace-123")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "trace-123" {
		t.Fatalf("X-Request-ID=%q, want %q", got, "trace-123")
	}
}
