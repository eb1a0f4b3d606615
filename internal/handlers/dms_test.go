package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SpeedyCraftah/go-chat-app/internal/api"
	"github.com/SpeedyCraftah/go-chat-app/internal/api/middleware"
	"github.com/SpeedyCraftah/go-chat-app/internal/blob"
	"github.com/SpeedyCraftah/go-chat-app/internal/gateway"
	"github.com/SpeedyCraftah/go-chat-app/internal/handlers"
	"github.com/SpeedyCraftah/go-chat-app/internal/store"
)

type testServer struct {
	ts    *httptest.Server
	store store.DataStore
}

// newTestServer wires a full server over SQLite and a temp blob store,
// without Redis.
func newTestServer(t *testing.T) *testServer {
	t.Helper()

	dir := t.TempDir()
	ds, err := store.NewSQLiteStore(context.Background(), filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(ds.Close)

	blobs, err := blob.Open(filepath.Join(dir, "blobs"))
	require.NoError(t, err)
	t.Cleanup(func() { blobs.Close() })

	logger := zerolog.Nop()
	registry := gateway.NewRegistry()
	dispatcher := gateway.NewDispatcher(registry, ds, logger)
	auth := middleware.NewAuthMiddleware(ds, nil)
	gw := gateway.New(registry, dispatcher, auth, logger)
	h := handlers.NewHandler(ds, nil, blobs, dispatcher, "", logger)

	ts := httptest.NewServer(api.NewRouter(logger, h, auth, gw, nil))
	t.Cleanup(ts.Close)

	return &testServer{ts: ts, store: ds}
}

func (s *testServer) do(t *testing.T, method, path, session string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, s.ts.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if session != "" {
		req.Header.Set("X-Session", session)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, respBody
}

// registerAndLogin creates an account and returns its session token
// and user id.
func (s *testServer) registerAndLogin(t *testing.T, username string) (session, userID string) {
	t.Helper()

	resp, body := s.do(t, "POST", "/api/register", "", map[string]string{
		"first_name": "Test",
		"username":   username,
		"password":   "password123",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var user struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(body, &user))

	resp, body = s.do(t, "POST", "/api/login", "", map[string]string{
		"username": username,
		"password": "password123",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var login struct {
		Session string `json:"session"`
	}
	require.NoError(t, json.Unmarshal(body, &login))
	return login.Session, user.ID
}

// openChannel opens a DM from the session's user to targetID and
// returns the channel id.
func (s *testServer) openChannel(t *testing.T, session, targetID string) string {
	t.Helper()

	resp, body := s.do(t, "POST", "/api/users/"+targetID+"/dms/create", session, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var channel struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(body, &channel))
	return channel.ID
}

type wireMessage struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	ChannelID   string `json:"channel_id"`
	Content     string `json:"content"`
	Date        int64  `json:"date"`
	Attachments []struct {
		ID        string `json:"id"`
		SizeBytes int64  `json:"size_bytes"`
		Name      string `json:"name"`
		MimeType  string `json:"mime_type"`
		URL       string `json:"url"`
	} `json:"attachments"`
}

func TestSendMessageRoundTrip(t *testing.T) {
	s := newTestServer(t)
	aliceSession, aliceID := s.registerAndLogin(t, "alice")
	bobSession, bobID := s.registerAndLogin(t, "bob")
	channelID := s.openChannel(t, aliceSession, bobID)

	// Before any message, the channel is hidden from bob.
	resp, body := s.do(t, "GET", "/api/dms", bobSession, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, "[]", string(body))

	resp, body = s.do(t, "POST", "/api/dms/"+channelID+"/messages", aliceSession, map[string]any{
		"content": "hello bob",
		"nonce":   99,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var msg wireMessage
	require.NoError(t, json.Unmarshal(body, &msg))
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, aliceID, msg.UserID)
	assert.Equal(t, channelID, msg.ChannelID)
	assert.Equal(t, "hello bob", msg.Content)
	assert.NotZero(t, msg.Date)
	// The HTTP response never echoes the nonce; only the gateway
	// readback does.
	assert.NotContains(t, string(body), `"nonce"`)

	// The send flipped visibility for bob.
	resp, body = s.do(t, "GET", "/api/dms", bobSession, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var channels []struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(body, &channels))
	require.Len(t, channels, 1)
	assert.Equal(t, channelID, channels[0].ID)

	// Both members see the message in history.
	resp, body = s.do(t, "POST", "/api/dms/"+channelID+"/messages/fetch", bobSession, map[string]any{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var history []wireMessage
	require.NoError(t, json.Unmarshal(body, &history))
	require.Len(t, history, 1)
	assert.Equal(t, msg.ID, history[0].ID)
}

func TestSendMessageAuthorization(t *testing.T) {
	s := newTestServer(t)
	aliceSession, _ := s.registerAndLogin(t, "alice")
	_, bobID := s.registerAndLogin(t, "bob")
	eveSession, _ := s.registerAndLogin(t, "eve")
	channelID := s.openChannel(t, aliceSession, bobID)

	// Non-member.
	resp, _ := s.do(t, "POST", "/api/dms/"+channelID+"/messages", eveSession, map[string]any{
		"content": "let me in",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Unknown channel.
	resp, _ = s.do(t, "POST", "/api/dms/00000000-0000-0000-0000-000000000001/messages", aliceSession, map[string]any{
		"content": "hello",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// No session at all.
	resp, _ = s.do(t, "POST", "/api/dms/"+channelID+"/messages", "", map[string]any{
		"content": "anon",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSendMessageValidation(t *testing.T) {
	s := newTestServer(t)
	aliceSession, _ := s.registerAndLogin(t, "alice")
	_, bobID := s.registerAndLogin(t, "bob")
	channelID := s.openChannel(t, aliceSession, bobID)
	sendPath := "/api/dms/" + channelID + "/messages"

	// Empty message.
	resp, _ := s.do(t, "POST", sendPath, aliceSession, map[string]any{"content": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Content over the cap.
	resp, _ = s.do(t, "POST", sendPath, aliceSession, map[string]any{
		"content": strings.Repeat("x", 501),
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	// Too many declared attachments, rejected before ingestion.
	declared := make([]map[string]any, 6)
	for i := range declared {
		declared[i] = map[string]any{"name": fmt.Sprintf("f%d.txt", i), "size_bytes": 1}
	}
	resp, _ = s.do(t, "POST", sendPath, aliceSession, map[string]any{
		"content":     "",
		"attachments": declared,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Declared attachments without a multipart body.
	resp, _ = s.do(t, "POST", sendPath, aliceSession, map[string]any{
		"content":     "",
		"attachments": []map[string]any{{"name": "f.txt", "size_bytes": 1}},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Nothing was committed by any of the above.
	resp, body := s.do(t, "POST", "/api/dms/"+channelID+"/messages/fetch", aliceSession, map[string]any{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, "[]", string(body))
}

// buildMultipart assembles a send body: JSON descriptor first, then
// the given file contents in order.
func buildMultipart(t *testing.T, descriptor map[string]any, files [][]byte) (body *bytes.Buffer, contentType string) {
	t.Helper()

	body = &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	data, err := json.Marshal(descriptor)
	require.NoError(t, err)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="payload_json"`)
	header.Set("Content-Type", "application/json")
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)

	for i, content := range files {
		fh := textproto.MIMEHeader{}
		fh.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file%d"; filename="file%d"`, i, i))
		fh.Set("Content-Type", "text/plain")
		fp, err := mw.CreatePart(fh)
		require.NoError(t, err)
		_, err = fp.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func (s *testServer) sendMultipart(t *testing.T, session, channelID string, descriptor map[string]any, files [][]byte) (*http.Response, []byte) {
	t.Helper()

	body, contentType := buildMultipart(t, descriptor, files)
	req, err := http.NewRequest("POST", s.ts.URL+"/api/dms/"+channelID+"/messages", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Session", session)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, respBody
}

func TestSendMessageWithAttachments(t *testing.T) {
	s := newTestServer(t)
	aliceSession, _ := s.registerAndLogin(t, "alice")
	_, bobID := s.registerAndLogin(t, "bob")
	channelID := s.openChannel(t, aliceSession, bobID)

	fileA := []byte("first file contents")
	fileB := []byte("second file")
	resp, body := s.sendMultipart(t, aliceSession, channelID, map[string]any{
		"content": "here you go",
		"attachments": []map[string]any{
			{"name": "a.txt", "size_bytes": len(fileA)},
			{"name": "b.txt", "size_bytes": len(fileB)},
		},
	}, [][]byte{fileA, fileB})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var msg wireMessage
	require.NoError(t, json.Unmarshal(body, &msg))
	require.Len(t, msg.Attachments, 2)
	assert.Equal(t, "a.txt", msg.Attachments[0].Name)
	assert.Equal(t, int64(len(fileA)), msg.Attachments[0].SizeBytes)
	assert.Equal(t, "text/plain", msg.Attachments[0].MimeType)
	assert.Equal(t, "b.txt", msg.Attachments[1].Name)

	// The URL is deterministic and the bytes round-trip through the
	// download endpoint.
	u, err := url.Parse(msg.Attachments[0].URL)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("/cdn/attachments/%s/%s/a.txt", msg.ID, msg.Attachments[0].ID), u.Path)

	req, err := http.NewRequest("GET", s.ts.URL+u.Path, nil)
	require.NoError(t, err)
	dlResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer dlResp.Body.Close()
	require.Equal(t, http.StatusOK, dlResp.StatusCode)
	assert.Equal(t, "text/plain", dlResp.Header.Get("Content-Type"))
	downloaded, err := io.ReadAll(dlResp.Body)
	require.NoError(t, err)
	assert.Equal(t, fileA, downloaded)

	// Tampering with the filename in the URL yields not found.
	tampered := strings.Replace(u.Path, "a.txt", "evil.txt", 1)
	resp, _ = s.do(t, "GET", tampered, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSendMessageMissingPartsRollsBack(t *testing.T) {
	s := newTestServer(t)
	aliceSession, _ := s.registerAndLogin(t, "alice")
	_, bobID := s.registerAndLogin(t, "bob")
	channelID := s.openChannel(t, aliceSession, bobID)

	// Three declared, only two binary parts delivered.
	resp, body := s.sendMultipart(t, aliceSession, channelID, map[string]any{
		"content": "",
		"attachments": []map[string]any{
			{"name": "a.txt", "size_bytes": 3},
			{"name": "b.txt", "size_bytes": 3},
			{"name": "c.txt", "size_bytes": 3},
		},
	}, [][]byte{[]byte("aaa"), []byte("bbb")})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))

	// The whole send rolled back: no message, no attachment rows.
	resp, body = s.do(t, "POST", "/api/dms/"+channelID+"/messages/fetch", aliceSession, map[string]any{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, "[]", string(body))

	atts, err := s.store.ListAttachmentIDsByChannel(context.Background(), mustParseUUID(t, channelID))
	require.NoError(t, err)
	assert.Empty(t, atts)
}

// droppingReader yields its data and then fails, like a connection
// that died mid-upload.
type droppingReader struct {
	data []byte
	off  int
}

func (d *droppingReader) Read(p []byte) (int, error) {
	if d.off >= len(d.data) {
		return 0, errors.New("connection dropped")
	}
	n := copy(p, d.data[d.off:])
	d.off += n
	return n, nil
}

func TestClientAbortMidUploadRollsBack(t *testing.T) {
	s := newTestServer(t)
	aliceSession, _ := s.registerAndLogin(t, "alice")
	_, bobID := s.registerAndLogin(t, "bob")
	channelID := s.openChannel(t, aliceSession, bobID)

	fileA := bytes.Repeat([]byte("A"), 1024)
	fileB := bytes.Repeat([]byte("B"), 2048)
	body, contentType := buildMultipart(t, map[string]any{
		"content": "",
		"attachments": []map[string]any{
			{"name": "a.bin", "size_bytes": len(fileA)},
			{"name": "b.bin", "size_bytes": len(fileB)},
		},
	}, [][]byte{fileA, fileB})

	// Cut the body partway through the second binary part: the first
	// attachment arrives whole and may already be ingested, then the
	// upload dies and the request context is cancelled.
	full := body.Bytes()
	cut := bytes.Index(full, fileB)
	require.Greater(t, cut, 0)
	truncated := full[:cut+16]

	req, err := http.NewRequest("POST", s.ts.URL+"/api/dms/"+channelID+"/messages", &droppingReader{data: truncated})
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Session", aliceSession)

	resp, err := http.DefaultClient.Do(req)
	if err == nil {
		resp.Body.Close()
	}

	// The aborted send must leave nothing behind: no message and no
	// orphan attachment rows for the provisional id.
	require.Eventually(t, func() bool {
		ids, err := s.store.ListAttachmentIDsByChannel(context.Background(), mustParseUUID(t, channelID))
		if err != nil || len(ids) != 0 {
			return false
		}
		msgs, err := s.store.ListMessages(context.Background(), mustParseUUID(t, channelID), 10, 0, store.FetchOlder)
		return err == nil && len(msgs) == 0
	}, 2*time.Second, 20*time.Millisecond, "aborted upload left partial state behind")
}

func TestFetchMessagesPivot(t *testing.T) {
	s := newTestServer(t)
	aliceSession, _ := s.registerAndLogin(t, "alice")
	_, bobID := s.registerAndLogin(t, "bob")
	channelID := s.openChannel(t, aliceSession, bobID)
	sendPath := "/api/dms/" + channelID + "/messages"
	fetchPath := "/api/dms/" + channelID + "/messages/fetch"

	var dates []int64
	for i := 0; i < 4; i++ {
		resp, body := s.do(t, "POST", sendPath, aliceSession, map[string]any{
			"content": fmt.Sprintf("msg %d", i),
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var msg wireMessage
		require.NoError(t, json.Unmarshal(body, &msg))
		dates = append(dates, msg.Date)
	}

	// Limited fetch returns the newest page, newest first.
	resp, body := s.do(t, "POST", fetchPath, aliceSession, map[string]any{"limit": 2})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page []wireMessage
	require.NoError(t, json.Unmarshal(body, &page))
	require.Len(t, page, 2)
	assert.Equal(t, "msg 3", page[0].Content)
	assert.Equal(t, "msg 2", page[1].Content)

	// Paging older from the last date of the previous page.
	resp, body = s.do(t, "POST", fetchPath, aliceSession, map[string]any{
		"limit": 10,
		"pivot": map[string]any{"date": page[1].Date, "direction": -1},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var older []wireMessage
	require.NoError(t, json.Unmarshal(body, &older))
	for _, m := range older {
		assert.Less(t, m.Date, page[1].Date)
	}

	// Invalid direction is rejected.
	resp, _ = s.do(t, "POST", fetchPath, aliceSession, map[string]any{
		"pivot": map[string]any{"date": dates[0], "direction": 2},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateDMGuards(t *testing.T) {
	s := newTestServer(t)
	aliceSession, aliceID := s.registerAndLogin(t, "alice")
	_, bobID := s.registerAndLogin(t, "bob")

	// Self-DM is rejected.
	resp, _ := s.do(t, "POST", "/api/users/"+aliceID+"/dms/create", aliceSession, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Opening twice returns the same channel.
	first := s.openChannel(t, aliceSession, bobID)
	second := s.openChannel(t, aliceSession, bobID)
	assert.Equal(t, first, second)
}

func TestDeleteAllMessages(t *testing.T) {
	s := newTestServer(t)
	aliceSession, _ := s.registerAndLogin(t, "alice")
	_, bobID := s.registerAndLogin(t, "bob")
	channelID := s.openChannel(t, aliceSession, bobID)

	resp, body := s.sendMultipart(t, aliceSession, channelID, map[string]any{
		"content":     "doomed",
		"attachments": []map[string]any{{"name": "gone.txt", "size_bytes": 4}},
	}, [][]byte{[]byte("gone")})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, _ = s.do(t, "POST", "/api/dev/channel/"+channelID+"/delete_all_messages", aliceSession, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = s.do(t, "POST", "/api/dms/"+channelID+"/messages/fetch", aliceSession, map[string]any{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, "[]", string(body))
}

func mustParseUUID(t *testing.T, s string) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(s)
	require.NoError(t, err)
	return id
}
