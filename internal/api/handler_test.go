package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/chatkool/chat-app/internal/chat"
	"github.com/chatkool/chat-app/internal/matching"
	"github.com/chatkool/chat-app/internal/storage"
)

type repositoryMock struct{ mock.Mock }

func (m *repositoryMock) ListRooms(ctx context.Context) ([]chat.Room, error) {
	args := m.Called(ctx)
	return args.Get(0).([]chat.Room), args.Error(1)
}

func (m *repositoryMock) GetMessages(ctx context.Context, roomID string, limit int) ([]chat.Message, error) {
	args := m.Called(ctx, roomID, limit)
	return args.Get(0).([]chat.Message), args.Error(1)
}

type matcherFunc func(identity string) (matching.MatchResult, error)

func (f matcherFunc) RequestMatch(identity string) (matching.MatchResult, error) { return f(identity) }

func setupRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return NewRouter(h, zerolog.Nop())
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func realMatcher() (*matching.Matchmaker, *chat.Directory) {
	rooms := chat.NewDirectory(chat.DefaultTranscriptSize)
	return matching.NewMatchmaker(rooms, zerolog.Nop(), matching.WithPicker(func(int) int { return 0 })), rooms
}

func TestRandomChat(t *testing.T) {
	mm, _ := realMatcher()
	router := setupRouter(NewHandler(mm, storage.NewMemory(), nil, zerolog.Nop()))

	rec := do(router, http.MethodPost, "/api/random-chat", `{"username":"ana"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var waiting map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&waiting))
	assert.Equal(t, false, waiting["matched"])
	assert.NotContains(t, waiting, "room")

	rec = do(router, http.MethodPost, "/api/random-chat", `{"username":" bea "}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var matched struct {
		Matched     bool      `json:"matched"`
		Room        chat.Room `json:"room"`
		MatchedUser string    `json:"matchedUser"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&matched))
	assert.True(t, matched.Matched)
	assert.Equal(t, "ana", matched.MatchedUser)
	assert.ElementsMatch(t, []string{"ana", "bea"}, matched.Room.Participants[:])

	rec = do(router, http.MethodPost, "/api/random-chat", `{"username":"bea"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRandomChat_BadRequest(t *testing.T) {
	called := false
	router := setupRouter(NewHandler(matcherFunc(func(string) (matching.MatchResult, error) {
		called = true
		return matching.MatchResult{}, nil
	}), storage.NewMemory(), nil, zerolog.Nop()))

	for _, body := range []string{``, `{}`, `{"username":""}`, `{"username":"   "}`, `{"username":"abcdefghijklmnopqrstu"}`, `not json`} {
		rec := do(router, http.MethodPost, "/api/random-chat", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
	}
	assert.False(t, called)
}

func TestRandomChat_MatcherError(t *testing.T) {
	router := setupRouter(NewHandler(matcherFunc(func(string) (matching.MatchResult, error) {
		return matching.MatchResult{}, assert.AnError
	}), storage.NewMemory(), nil, zerolog.Nop()))

	rec := do(router, http.MethodPost, "/api/random-chat", `{"username":"ana"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListRooms(t *testing.T) {
	repo := storage.NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, repo.SaveRoom(ctx, chat.Room{ID: "r1", Participants: [2]string{"ana", "bea"}, CreatedAt: now.Add(-time.Minute)}))
	require.NoError(t, repo.SaveRoom(ctx, chat.Room{ID: "r2", Participants: [2]string{"cai", "Maria"}, Persona: "Maria", CreatedAt: now}))

	router := setupRouter(NewHandler(matcherFunc(nil), repo, nil, zerolog.Nop()))
	rec := do(router, http.MethodGet, "/api/rooms", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var rooms []chat.Room
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&rooms))
	require.Len(t, rooms, 2)
	assert.Equal(t, "r2", rooms[0].ID)
	assert.Equal(t, "Maria", rooms[0].Persona)
}

func TestListRooms_Empty(t *testing.T) {
	router := setupRouter(NewHandler(matcherFunc(nil), storage.NewMemory(), nil, zerolog.Nop()))
	rec := do(router, http.MethodGet, "/api/rooms", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestListRooms_RepoError(t *testing.T) {
	repo := new(repositoryMock)
	repo.On("ListRooms", mock.Anything).Return(([]chat.Room)(nil), assert.AnError).Once()

	router := setupRouter(NewHandler(matcherFunc(nil), repo, nil, zerolog.Nop()))
	rec := do(router, http.MethodGet, "/api/rooms", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	repo.AssertExpectations(t)
}

func TestGetMessages(t *testing.T) {
	repo := storage.NewMemory()
	ctx := context.Background()
	require.NoError(t, repo.SaveRoom(ctx, chat.Room{ID: "r1", Participants: [2]string{"ana", "bea"}, CreatedAt: time.Now()}))
	for _, text := range []string{"one", "two", "three"} {
		_, err := repo.AppendMessage(ctx, "r1", "ana", text)
		require.NoError(t, err)
	}
	router := setupRouter(NewHandler(matcherFunc(nil), repo, nil, zerolog.Nop()))

	rec := do(router, http.MethodGet, "/api/rooms/r1/messages?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var msgs []chat.Message
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&msgs))
	require.Len(t, msgs, 2)
	assert.Equal(t, "two", msgs[0].Content)
	assert.Equal(t, "three", msgs[1].Content)

	rec = do(router, http.MethodGet, "/api/rooms/r1/messages", "")
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&msgs))
	assert.Len(t, msgs, 3)

	for _, q := range []string{"0", "-1", "abc"} {
		rec = do(router, http.MethodGet, "/api/rooms/r1/messages?limit="+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, "limit %q", q)
	}
}

func TestGetMessages_LimitCapped(t *testing.T) {
	repo := new(repositoryMock)
	repo.On("GetMessages", mock.Anything, "r1", maxMessageLimit).Return([]chat.Message{}, nil).Once()

	router := setupRouter(NewHandler(matcherFunc(nil), repo, nil, zerolog.Nop()))
	rec := do(router, http.MethodGet, "/api/rooms/r1/messages?limit=100000", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	repo.AssertExpectations(t)
}

func TestGetMessages_TranscriptFallback(t *testing.T) {
	rooms := chat.NewDirectory(chat.DefaultTranscriptSize)
	room, err := rooms.Create("ana", "bea")
	require.NoError(t, err)
	require.True(t, rooms.Record(chat.Message{ID: "m1", Content: "hi", Username: "ana", RoomID: room.ID}))

	repo := new(repositoryMock)
	repo.On("GetMessages", mock.Anything, room.ID, storage.DefaultMessageLimit).Return(([]chat.Message)(nil), assert.AnError)
	repo.On("GetMessages", mock.Anything, "gone", storage.DefaultMessageLimit).Return(([]chat.Message)(nil), assert.AnError)

	router := setupRouter(NewHandler(matcherFunc(nil), repo, rooms, zerolog.Nop()))

	rec := do(router, http.MethodGet, "/api/rooms/"+room.ID+"/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var msgs []chat.Message
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Content)

	rec = do(router, http.MethodGet, "/api/rooms/gone/messages", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
