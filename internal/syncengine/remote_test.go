package syncengine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sugreev38/v0-hospital-emr-software/pkg/logger"
	"github.com/sugreev38/v0-hospital-emr-software/pkg/monitoring"
	"github.com/sugreev38/v0-hospital-emr-software/pkg/types"
)

func TestHTTPRemote_PostsMutation(t *testing.T) {
	var (
		gotPath string
		gotAuth string
		gotBody map[string]interface{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	remote := NewHTTPRemote(srv.URL, "token-123", time.Second, monitoring.NewTracingManager("test"))

	appt := &types.Appointment{PatientID: "P1", Status: types.AppointmentStatusScheduled}
	appt.ID = "A1"
	err := remote.ApplyMutation(context.Background(), types.SyncOperationUpdate, types.EntityAppointment, types.NewPayload(appt))
	require.NoError(t, err)

	assert.Equal(t, "/sync/appointment", gotPath)
	assert.Equal(t, "Bearer token-123", gotAuth)
	assert.Equal(t, "update", gotBody["operation"])
	assert.Equal(t, "appointment", gotBody["entity"])
	data, ok := gotBody["data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "A1", data["id"])
	assert.Equal(t, "P1", data["patientId"])
}

func TestHTTPRemote_DeletionBody(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	remote := NewHTTPRemote(srv.URL, "", time.Second, nil)
	err := remote.ApplyMutation(context.Background(), types.SyncOperationDelete, types.EntityPatient, types.NewDeletionPayload(types.EntityPatient, "P7"))
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"id": "P7"}, gotBody["data"])
}

func TestHTTPRemote_RejectedIsRemoteApplyError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	remote := NewHTTPRemote(srv.URL, "", time.Second, nil)
	err := remote.ApplyMutation(context.Background(), types.SyncOperationDelete, types.EntityPatient, types.NewDeletionPayload(types.EntityPatient, "P1"))
	require.Error(t, err)
	assert.True(t, types.IsRemoteApply(err))
	assert.Contains(t, err.Error(), "409")
}

func TestHTTPRemote_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	remote := NewHTTPRemote(url, "", 200*time.Millisecond, nil)
	err := remote.ApplyMutation(context.Background(), types.SyncOperationDelete, types.EntityPatient, types.NewDeletionPayload(types.EntityPatient, "P1"))
	assert.True(t, types.IsRemoteApply(err))
}

func TestLoggingRemote_AcceptsEverything(t *testing.T) {
	remote := NewLoggingRemote(logger.Discard())
	err := remote.ApplyMutation(context.Background(), types.SyncOperationDelete, types.EntityRecord, types.NewDeletionPayload(types.EntityRecord, "R1"))
	assert.NoError(t, err)
}
