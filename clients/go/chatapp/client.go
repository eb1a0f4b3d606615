// Package chatapp provides a Go client for the chat service: the REST
// API, the realtime gateway and local pending-send tracking.
package chatapp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"
)

// Client is a chat API client. Session is the bearer token obtained
// from Login and is sent on every authenticated request.
type Client struct {
	BaseURL    string
	Session    string
	HTTPClient *http.Client
}

// NewClient creates a new client for the given server.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8000"
	}
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// User is a public user profile.
type User struct {
	ID        string `json:"id"`
	Type      int    `json:"type"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	AvatarURL string `json:"avatar_url"`
}

// Attachment is a file attached to a message, with its download URL.
type Attachment struct {
	ID        string `json:"id"`
	SizeBytes int64  `json:"size_bytes"`
	Name      string `json:"name"`
	MimeType  string `json:"mime_type"`
	URL       string `json:"url"`
}

// Message is a committed chat message. Nonce is only set on gateway
// readback events for messages this client sent.
type Message struct {
	ID          string       `json:"id"`
	UserID      string       `json:"user_id"`
	ChannelID   string       `json:"channel_id"`
	Content     string       `json:"content"`
	Date        int64        `json:"date"`
	Nonce       int64        `json:"nonce,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Channel is an open DM channel with the other member's profile.
type Channel struct {
	ID   string `json:"id"`
	User User   `json:"user"`
}

// FileUpload pairs an attachment's metadata with its content reader.
type FileUpload struct {
	Name     string
	MimeType string
	Size     int64
	Reader   io.Reader
}

func (c *Client) doRequest(method, path string, body []byte, contentType string) ([]byte, error) {
	req, err := http.NewRequest(method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.Session != "" {
		req.Header.Set("X-Session", c.Session)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return nil, fmt.Errorf("chat error %d: %s", resp.StatusCode, errResp.Error)
	}

	return respBody, nil
}

func (c *Client) postJSON(path string, reqBody, out interface{}) error {
	var body []byte
	if reqBody != nil {
		var err error
		body, err = json.Marshal(reqBody)
		if err != nil {
			return err
		}
	}
	respBody, err := c.doRequest("POST", path, body, "application/json")
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

func (c *Client) getJSON(path string, out interface{}) error {
	respBody, err := c.doRequest("GET", path, nil, "")
	if err != nil {
		return err
	}
	return json.Unmarshal(respBody, out)
}

// Login authenticates and stores the session token on the client.
func (c *Client) Login(username, password string) error {
	var resp struct {
		Session string `json:"session"`
	}
	err := c.postJSON("/api/login", map[string]string{
		"username": username,
		"password": password,
	}, &resp)
	if err != nil {
		return err
	}
	c.Session = resp.Session
	return nil
}

// Register creates a new account. Does not log in.
func (c *Client) Register(firstName, username, password string) (*User, error) {
	var user User
	err := c.postJSON("/api/register", map[string]string{
		"first_name": firstName,
		"username":   username,
		"password":   password,
	}, &user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Logout invalidates the session server-side and clears it locally.
func (c *Client) Logout() error {
	if err := c.postJSON("/api/logout", nil, nil); err != nil {
		return err
	}
	c.Session = ""
	return nil
}

// GetUser fetches a user's public profile.
func (c *Client) GetUser(userID string) (*User, error) {
	var user User
	if err := c.getJSON("/api/users/"+userID, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// SearchUsers searches users by username prefix.
func (c *Client) SearchUsers(username string, limit int) ([]User, error) {
	var users []User
	err := c.postJSON("/api/users/search", map[string]interface{}{
		"username": username,
		"limit":    limit,
	}, &users)
	return users, err
}

// OpenDMs lists the channels visible to this user.
func (c *Client) OpenDMs() ([]Channel, error) {
	var channels []Channel
	err := c.getJSON("/api/dms", &channels)
	return channels, err
}

// GetChannel fetches a single open channel.
func (c *Client) GetChannel(channelID string) (*Channel, error) {
	var channel Channel
	if err := c.getJSON("/api/dms/"+channelID, &channel); err != nil {
		return nil, err
	}
	return &channel, nil
}

// CreateDM opens (or unhides) a DM channel with another user.
func (c *Client) CreateDM(userID string) (*Channel, error) {
	var channel Channel
	if err := c.postJSON("/api/users/"+userID+"/dms/create", nil, &channel); err != nil {
		return nil, err
	}
	return &channel, nil
}

// SendMessage sends a text-only message. The nonce correlates the
// gateway readback event with a locally tracked pending send; pass 0
// when not tracking.
func (c *Client) SendMessage(channelID, content string, nonce int64) (*Message, error) {
	var msg Message
	err := c.postJSON("/api/dms/"+channelID+"/messages", map[string]interface{}{
		"content": content,
		"nonce":   nonce,
	}, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// SendMessageWithAttachments sends a message with file uploads. The
// body is multipart: a JSON descriptor first, then one binary part per
// file in the same order as declared.
func (c *Client) SendMessageWithAttachments(channelID, content string, nonce int64, files []FileUpload) (*Message, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	declared := make([]map[string]interface{}, 0, len(files))
	for _, f := range files {
		declared = append(declared, map[string]interface{}{
			"name":       f.Name,
			"size_bytes": f.Size,
		})
	}
	descriptor, err := json.Marshal(map[string]interface{}{
		"content":     content,
		"nonce":       nonce,
		"attachments": declared,
	})
	if err != nil {
		return nil, err
	}

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="payload_json"`)
	header.Set("Content-Type", "application/json")
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(descriptor); err != nil {
		return nil, err
	}

	for i, f := range files {
		fh := textproto.MIMEHeader{}
		fh.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file%d"; filename=%q`, i, f.Name))
		if f.MimeType != "" {
			fh.Set("Content-Type", f.MimeType)
		}
		fp, err := mw.CreatePart(fh)
		if err != nil {
			return nil, err
		}
		if _, err := io.Copy(fp, f.Reader); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	respBody, err := c.doRequest("POST", "/api/dms/"+channelID+"/messages", buf.Bytes(), mw.FormDataContentType())
	if err != nil {
		return nil, err
	}

	var msg Message
	if err := json.Unmarshal(respBody, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Pivot bounds a history fetch: messages strictly older (direction -1)
// or newer (direction 1) than the given timestamp.
type Pivot struct {
	Date      int64 `json:"date"`
	Direction int   `json:"direction"`
}

// FetchMessages retrieves message history, newest first. A nil pivot
// fetches the most recent page.
func (c *Client) FetchMessages(channelID string, limit int, pivot *Pivot) ([]Message, error) {
	req := map[string]interface{}{"limit": limit}
	if pivot != nil {
		req["pivot"] = pivot
	}
	var messages []Message
	err := c.postJSON("/api/dms/"+channelID+"/messages/fetch", req, &messages)
	return messages, err
}

// DeleteAllMessages wipes a channel's history. Development helper.
func (c *Client) DeleteAllMessages(channelID string) error {
	return c.postJSON("/api/dev/channel/"+channelID+"/delete_all_messages", nil, nil)
}
