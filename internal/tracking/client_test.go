package tracking

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/wigen/internal/apperr"
	"github.com/starford/wigen/internal/models"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{
		OrganizationURL: srv.URL + "/contoso",
		Token:           "pat",
		MaxRetryElapsed: time.Second,
		RetryInitial:    time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func TestGetItem(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/contoso/_apis/wit/workitems/4312", r.URL.Path)
		assert.Equal(t, "7.0", r.URL.Query().Get("api-version"))
		assert.Equal(t, "relations", r.URL.Query().Get("$expand"))
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Empty(t, user)
		assert.Equal(t, "pat", pass)

		_, _ = io.WriteString(w, `{
			"id": 4312,
			"fields": {
				"System.WorkItemType": "Product Backlog Item",
				"System.Title": "Upgrade DB",
				"GTSKanban.TASK": "9001"
			},
			"relations": [
				{"rel": "System.LinkTypes.Hierarchy-Reverse", "url": "https://dev.azure.com/contoso/_apis/wit/workItems/4311"},
				{"rel": "ArtifactLink", "url": "vstfs:///Git/Commit/abc"}
			]
		}`)
	}))

	item, err := c.GetItem(context.Background(), 4312, true)
	require.NoError(t, err)
	assert.Equal(t, 4312, item.ID)
	assert.Equal(t, "Product Backlog Item", item.Type)
	assert.Equal(t, "Upgrade DB", item.Title)
	assert.True(t, item.HasTaskTag)
	assert.Equal(t, "9001", item.TaskTag)
	require.Len(t, item.Relations, 2)
	assert.Equal(t, 4311, item.Relations[0].TargetID)
	assert.True(t, item.HasParent(4311))
}

func TestGetItem_WithoutTaskField(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query().Get("$expand"))
		_, _ = io.WriteString(w, `{"id": 7, "fields": {"System.WorkItemType": "Bug", "System.Title": "x"}}`)
	}))

	item, err := c.GetItem(context.Background(), 7, false)
	require.NoError(t, err)
	assert.False(t, item.HasTaskTag)
	assert.Empty(t, item.Relations)
}

func TestGetItem_NotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, `{"message":"TF401232: Work item 9 does not exist"}`, http.StatusNotFound)
	}))

	_, err := c.GetItem(context.Background(), 9, false)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.EqualValues(t, 1, calls.Load())
}

func TestRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusBadGateway)
		default:
			_, _ = io.WriteString(w, `{"id": 1, "fields": {"System.WorkItemType": "Request"}}`)
		}
	}))

	item, err := c.GetItem(context.Background(), 1, false)
	require.NoError(t, err)
	assert.Equal(t, "Request", item.Type)
	assert.EqualValues(t, 3, calls.Load())
}

func TestClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))

	_, err := c.GetItem(context.Background(), 1, false)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.Code)
	assert.Contains(t, se.Body, "bad token")
	assert.EqualValues(t, 1, calls.Load())
}

func TestCreateItem(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/contoso/Architecture/_apis/wit/workitems/$Product Backlog Item", r.URL.Path)
		assert.Equal(t, jsonPatch, r.Header.Get("Content-Type"))

		var ops []models.PatchOperation
		require.NoError(t, json.NewDecoder(r.Body).Decode(&ops))
		require.Len(t, ops, 2)
		assert.Equal(t, models.PatchOperation{Op: "add", Path: "/fields/System.Title", Value: "Upgrade DB"}, ops[0])

		_, _ = io.WriteString(w, `{"id": 501, "fields": {"System.WorkItemType": "Product Backlog Item", "System.Title": "Upgrade DB", "GTSKanban.TASK": "9001"}}`)
	}))

	item, err := c.CreateItem(context.Background(), "Architecture", models.Payload{
		TypeName: "Product Backlog Item",
		Operations: []models.PatchOperation{
			{Op: "add", Path: "/fields/System.Title", Value: "Upgrade DB"},
			{Op: "add", Path: "/fields/GTSKanban.TASK", Value: "9001"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 501, item.ID)
	assert.Equal(t, "9001", item.TaskTag)

	_, err = c.CreateItem(context.Background(), "Architecture", models.Payload{})
	assert.Error(t, err)
}

func TestAddHierarchicalLink(t *testing.T) {
	var got []map[string]any
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/contoso/_apis/wit/workitems/501", r.URL.Path)
		assert.Equal(t, jsonPatch, r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"id": 501}`)
	}))

	require.NoError(t, c.AddHierarchicalLink(context.Background(), 501, 500, "linked"))
	require.Len(t, got, 1)
	assert.Equal(t, "add", got[0]["op"])
	assert.Equal(t, "/relations/-", got[0]["path"])
	value := got[0]["value"].(map[string]any)
	assert.Equal(t, models.ParentRelation, value["rel"])
	assert.Equal(t, c.base+"/_apis/wit/workItems/500", value["url"])
	assert.Equal(t, map[string]any{"comment": "linked"}, value["attributes"])
}

func TestNew_RejectsBadURL(t *testing.T) {
	_, err := New(Config{OrganizationURL: "not a url"})
	assert.Error(t, err)
}
