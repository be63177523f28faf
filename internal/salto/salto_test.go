package salto

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "tok-abc"

// loginHandler answers the OAuth token endpoint and delegates everything else.
func loginHandler(t *testing.T, next http.Handler) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/connect/token" {
			fmt.Fprintf(w, `{"access_token":%q}`, testToken)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(loginHandler(t, handler))
	t.Cleanup(server.Close)

	client, err := NewClient(context.Background(), Config{
		BaseURL:  server.URL,
		Username: "syncbot",
		Password: "hunter2",
	})
	require.NoError(t, err)
	return client
}

func TestSalt(t *testing.T) {
	t.Parallel()

	first, err := salt()
	require.NoError(t, err)
	second, err := salt()
	require.NoError(t, err)

	// 32 bytes, hex-encoded.
	assert.Len(t, first, 64)
	_, err = hex.DecodeString(first)
	assert.NoError(t, err)

	// The random tail makes collisions vanishingly unlikely.
	assert.NotEqual(t, first, second)
}

func TestHashWithSalt(t *testing.T) {
	t.Parallel()

	s := "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"
	got := hashWithSalt(s, "hunter2")

	require.Len(t, got, 128)
	assert.Equal(t, s, got[:64])

	// The digest covers the hex string of the salt, not its raw bytes.
	want := sha256.Sum256([]byte(s + "hunter2"))
	assert.Equal(t, hex.EncodeToString(want[:]), got[64:])
}

func TestPasswordHashShape(t *testing.T) {
	t.Parallel()

	hash, err := passwordHash("hunter2")
	require.NoError(t, err)
	require.Len(t, hash, 128)
	_, err = hex.DecodeString(hash)
	assert.NoError(t, err)
}

func TestLogin(t *testing.T) {
	t.Parallel()

	var gotForm, gotQuery map[string][]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/oauth/connect/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		gotQuery = r.URL.Query()
		fmt.Fprint(w, `{"access_token":"tok"}`)
	}))
	t.Cleanup(server.Close)

	_, err := NewClient(context.Background(), Config{
		BaseURL:  server.URL,
		Username: "syncbot",
		Password: "hunter2",
	})
	require.NoError(t, err)

	// The endpoint wants the credentials in the body and the query string.
	for _, got := range []map[string][]string{gotForm, gotQuery} {
		assert.Equal(t, "password", got["grant_type"][0])
		assert.Equal(t, "webapp", got["client_id"][0])
		assert.Equal(t, "offline_access global", got["scope"][0])
		assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("syncbot")), got["username"][0])
		assert.Len(t, got["password"][0], 128)
	}
}

func TestLoginFailure(t *testing.T) {
	t.Parallel()

	t.Run("http error", func(t *testing.T) {
		t.Parallel()
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "bad credentials", http.StatusUnauthorized)
		}))
		t.Cleanup(server.Close)

		_, err := NewClient(context.Background(), Config{BaseURL: server.URL, Username: "u", Password: "p"})
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "login", apiErr.Op)
	})

	t.Run("empty token", func(t *testing.T) {
		t.Parallel()
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, `{}`)
		}))
		t.Cleanup(server.Close)

		_, err := NewClient(context.Background(), Config{BaseURL: server.URL, Username: "u", Password: "p"})
		assert.ErrorContains(t, err, "no access token")
	})
}

func TestUserIterator(t *testing.T) {
	t.Parallel()

	pageOne := `[
		{"ExtId":"ext-1","Title":"0011","Extra":"opaque"},
		{"ExtId":"ext-2","Title":"22","Extra":"opaque"}
	]`
	pageTwo := `[
		{"ExtId":"ext-3","Title":"not-a-number"},
		{"ExtId":"","Title":"44"},
		{"ExtId":"ext-5","Title":"55"}
	]`

	var requests []userListRequest
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rpc/GetUserListStartingFromItem", r.URL.Path)
		require.Equal(t, "Bearer "+testToken, r.Header.Get("Authorization"))

		var req userListRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		requests = append(requests, req)

		switch len(requests) {
		case 1:
			fmt.Fprint(w, pageOne)
		case 2:
			fmt.Fprint(w, pageTwo)
		default:
			fmt.Fprint(w, `[]`)
		}
	}))

	it := client.Users()
	var users []User
	for {
		user, ok, err := it.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		users = append(users, user)
	}

	// Leading zeros parse, malformed records are skipped individually.
	assert.Equal(t, []User{
		{ExtID: "ext-1", TransponderID: 11},
		{ExtID: "ext-2", TransponderID: 22},
		{ExtID: "ext-5", TransponderID: 55},
	}, users)

	require.Len(t, requests, 3)
	assert.Nil(t, requests[0].StartingItem)
	for _, req := range requests {
		assert.Equal(t, userListPageSize, req.MaxCount)
		assert.Equal(t, 0, req.OrderBy)
		assert.False(t, req.IsForward)
		assert.Equal(t, "Salto.Services.Web.Model.Dto.Cardholders.Users.UserRelationSet", req.Relations.Type)
	}

	// The cursor is the raw last record of the previous page, unknown
	// fields included.
	var cursor map[string]any
	require.NoError(t, json.Unmarshal(requests[1].StartingItem, &cursor))
	assert.Equal(t, "ext-2", cursor["ExtId"])
	assert.Equal(t, "opaque", cursor["Extra"])

	require.NoError(t, json.Unmarshal(requests[2].StartingItem, &cursor))
	assert.Equal(t, "ext-5", cursor["ExtId"])
}

func TestUserIteratorTerminalError(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))

	_, _, err := client.Users().Next(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
}

func TestExtIDsByTransponder(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req userListRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.StartingItem != nil {
			fmt.Fprint(w, `[]`)
			return
		}
		fmt.Fprint(w, `[
			{"ExtId":"ext-1","Title":"11"},
			{"ExtId":"ext-1-dup","Title":"11"},
			{"ExtId":"ext-2","Title":"22"},
			{"ExtId":"ext-3","Title":"33"}
		]`)
	}))

	got, err := client.ExtIDsByTransponder(context.Background(), []int64{11, 22, 99})
	require.NoError(t, err)

	// The last directory user carrying a transponder wins; unknown
	// transponders are simply absent.
	assert.Equal(t, map[int64]string{11: "ext-1-dup", 22: "ext-2"}, got)
}
