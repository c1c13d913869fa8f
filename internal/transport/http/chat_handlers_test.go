package http

import (
	"fmt"
	stdhttp "net/http"
	"testing"
)

func TestHealthEndpoint(t *testing.T) {
	ts, _, _ := startTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != stdhttp.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestRegisterLoginAndMe(t *testing.T) {
	ts, _, _ := startTestServer(t)

	registerUser(t, ts, "alice", "tenant")

	var authResp AuthResponse
	status := doJSON(t, ts, stdhttp.MethodPost, "/api/login", "",
		`{"username":"alice","password":"password123"}`, &authResp)
	if status != stdhttp.StatusOK {
		t.Fatalf("login: unexpected status %d", status)
	}
	if authResp.Token == "" {
		t.Fatal("login returned empty token")
	}

	var me UserResponse
	status = doJSON(t, ts, stdhttp.MethodGet, "/api/me", authResp.Token, "", &me)
	if status != stdhttp.StatusOK {
		t.Fatalf("me: unexpected status %d", status)
	}
	if me.Username != "alice" || me.Role != "tenant" || me.ID == 0 {
		t.Fatalf("unexpected identity: %+v", me)
	}

	// Unknown credentials and missing tokens are rejected.
	if status := doJSON(t, ts, stdhttp.MethodPost, "/api/login", "",
		`{"username":"alice","password":"nope"}`, nil); status != stdhttp.StatusUnauthorized {
		t.Fatalf("expected 401 for bad password, got %d", status)
	}
	if status := doJSON(t, ts, stdhttp.MethodGet, "/api/me", "", "", nil); status != stdhttp.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", status)
	}
}

func TestRegisterRejectsUnknownRole(t *testing.T) {
	ts, _, _ := startTestServer(t)

	status := doJSON(t, ts, stdhttp.MethodPost, "/api/register", "",
		`{"username":"mallory","password":"password123","role":"admin"}`, nil)
	if status != stdhttp.StatusBadRequest {
		t.Fatalf("expected 400 for unknown role, got %d", status)
	}
}

func TestMessageRESTFlow(t *testing.T) {
	ts, _, _ := startTestServer(t)

	aliceToken := registerUser(t, ts, "alice", "tenant")
	bobToken := registerUser(t, ts, "bob", "owner")

	// Alice opens the conversation.
	var created MessageResponse
	status := doJSON(t, ts, stdhttp.MethodPost, "/api/messages", aliceToken,
		`{"receiver_id":2,"body":"Hi"}`, &created)
	if status != stdhttp.StatusCreated {
		t.Fatalf("send: unexpected status %d", status)
	}
	if created.ID == 0 || created.Room != "dm:1:2" || created.SenderID != 1 || created.Body != "Hi" {
		t.Fatalf("unexpected message: %+v", created)
	}

	// Bob sees one conversation with one unread message.
	var convs []ConversationResponse
	status = doJSON(t, ts, stdhttp.MethodGet, "/api/conversations", bobToken, "", &convs)
	if status != stdhttp.StatusOK {
		t.Fatalf("conversations: unexpected status %d", status)
	}
	if len(convs) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(convs))
	}
	if convs[0].Counterpart.ID != 1 || convs[0].Unread != 1 || convs[0].LastMessage.Body != "Hi" || convs[0].LastMessage.FromSelf {
		t.Fatalf("unexpected conversation: %+v", convs[0])
	}

	// Bob reads it.
	if status := doJSON(t, ts, stdhttp.MethodPost, "/api/conversations/1/read", bobToken, "", nil); status != stdhttp.StatusNoContent {
		t.Fatalf("mark read: unexpected status %d", status)
	}
	doJSON(t, ts, stdhttp.MethodGet, "/api/conversations", bobToken, "", &convs)
	if convs[0].Unread != 0 {
		t.Fatalf("expected unread 0 after mark read, got %d", convs[0].Unread)
	}

	// Bob cannot rewrite Alice's message.
	status = doJSON(t, ts, stdhttp.MethodPatch, fmt.Sprintf("/api/messages/%d", created.ID), bobToken,
		`{"body":"hijacked"}`, nil)
	if status != stdhttp.StatusForbidden {
		t.Fatalf("expected 403 for foreign edit, got %d", status)
	}

	// Alice can.
	var edited MessageResponse
	status = doJSON(t, ts, stdhttp.MethodPatch, fmt.Sprintf("/api/messages/%d", created.ID), aliceToken,
		`{"body":"Hello"}`, &edited)
	if status != stdhttp.StatusOK {
		t.Fatalf("edit: unexpected status %d", status)
	}
	if edited.Body != "Hello" || !edited.Edited {
		t.Fatalf("unexpected edited message: %+v", edited)
	}

	// History reflects the edit for both sides.
	var history []MessageResponse
	status = doJSON(t, ts, stdhttp.MethodGet, "/api/messages?with=1", bobToken, "", &history)
	if status != stdhttp.StatusOK {
		t.Fatalf("history: unexpected status %d", status)
	}
	if len(history) != 1 || history[0].Body != "Hello" {
		t.Fatalf("unexpected history: %+v", history)
	}

	// Deletion removes the message from history and the roster.
	status = doJSON(t, ts, stdhttp.MethodDelete, fmt.Sprintf("/api/messages/%d", created.ID), aliceToken, "", nil)
	if status != stdhttp.StatusNoContent {
		t.Fatalf("delete: unexpected status %d", status)
	}
	doJSON(t, ts, stdhttp.MethodGet, "/api/messages?with=1", bobToken, "", &history)
	if len(history) != 0 {
		t.Fatalf("expected empty history after delete, got %+v", history)
	}
	doJSON(t, ts, stdhttp.MethodGet, "/api/conversations", bobToken, "", &convs)
	if len(convs) != 0 {
		t.Fatalf("expected empty conversation list after delete, got %+v", convs)
	}

	// The tombstoned id stays dead.
	status = doJSON(t, ts, stdhttp.MethodPatch, fmt.Sprintf("/api/messages/%d", created.ID), aliceToken,
		`{"body":"resurrect"}`, nil)
	if status != stdhttp.StatusNotFound {
		t.Fatalf("expected 404 for edit of deleted message, got %d", status)
	}
}

func TestMessageValidation(t *testing.T) {
	ts, _, _ := startTestServer(t)

	aliceToken := registerUser(t, ts, "alice", "tenant")

	// Messaging yourself is not a conversation.
	status := doJSON(t, ts, stdhttp.MethodPost, "/api/messages", aliceToken,
		`{"receiver_id":1,"body":"echo"}`, nil)
	if status != stdhttp.StatusBadRequest {
		t.Fatalf("expected 400 for self message, got %d", status)
	}

	// Blank bodies are rejected.
	status = doJSON(t, ts, stdhttp.MethodPost, "/api/messages", aliceToken,
		`{"receiver_id":2,"body":"   "}`, nil)
	if status != stdhttp.StatusBadRequest {
		t.Fatalf("expected 400 for blank body, got %d", status)
	}

	// History needs a counterpart.
	status = doJSON(t, ts, stdhttp.MethodGet, "/api/messages", aliceToken, "", nil)
	if status != stdhttp.StatusBadRequest {
		t.Fatalf("expected 400 without with param, got %d", status)
	}
}

func TestGetCounterpart(t *testing.T) {
	ts, _, _ := startTestServer(t)

	aliceToken := registerUser(t, ts, "alice", "tenant")
	registerUser(t, ts, "bob", "owner")

	var user UserResponse
	status := doJSON(t, ts, stdhttp.MethodGet, "/api/users/2", aliceToken, "", &user)
	if status != stdhttp.StatusOK {
		t.Fatalf("unexpected status %d", status)
	}
	if user.Username != "bob" || user.Role != "owner" {
		t.Fatalf("unexpected counterpart: %+v", user)
	}

	if status := doJSON(t, ts, stdhttp.MethodGet, "/api/users/99", aliceToken, "", nil); status != stdhttp.StatusNotFound {
		t.Fatalf("expected 404 for unknown user, got %d", status)
	}
}
