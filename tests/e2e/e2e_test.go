package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"medisync/internal/database"
	"medisync/internal/domain"
	"medisync/internal/middleware"
	syncmod "medisync/internal/modules/sync"
	"medisync/internal/modules/viewer"
	"medisync/internal/pkg/checksum"
	"medisync/internal/pkg/reference"
	"medisync/internal/repository"
	"medisync/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testDeviceToken = "test-device-token"

type E2ETestSuite struct {
	router *gin.Engine
	db     *gorm.DB
}

type TestResponse struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   *ErrorDetail           `json:"error,omitempty"`
}

type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func setupTestSuite(t *testing.T) *E2ETestSuite {
	t.Helper()
	workDir := t.TempDir()

	db, err := database.Connect(filepath.Join(workDir, "e2e.db"))
	require.NoError(t, err, "Failed to connect to test database")

	models := []interface{}{
		&domain.UploadSession{},
		&domain.Collection{},
		&domain.Group{},
		&domain.Artifact{},
	}
	for _, model := range models {
		require.NoError(t, db.AutoMigrate(model), fmt.Sprintf("Failed to migrate %T", model))
	}

	blobs, err := store.NewFSStore(filepath.Join(workDir, "blobs"))
	require.NoError(t, err)

	sessionRepo := repository.NewSessionRepository(db)
	collectionRepo := repository.NewCollectionRepository(db)
	artifactRepo := repository.NewArtifactRepository(db)

	syncService, err := syncmod.NewService(sessionRepo, collectionRepo, artifactRepo, blobs, filepath.Join(workDir, "spool"))
	require.NoError(t, err)
	syncHandler := syncmod.NewHandler(syncService)

	signer := reference.NewSigner("e2e-reference-secret", time.Hour)
	viewerService := viewer.NewService(collectionRepo, artifactRepo, blobs, signer, false)
	viewerHandler := viewer.NewHandler(viewerService)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery())

	v1 := r.Group("/api/v1")
	viewerHandler.RegisterRoutes(v1)

	ingest := v1.Group("/")
	ingest.Use(middleware.DeviceTokenAuth(testDeviceToken))
	syncHandler.RegisterRoutes(ingest)

	return &E2ETestSuite{router: r, db: db}
}

func (s *E2ETestSuite) makeJSONRequest(method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var bodyBytes []byte
	if body != nil {
		bodyBytes, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewBuffer(bodyBytes))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *E2ETestSuite) makeBinaryRequest(path string, chunk []byte, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPut, path, bytes.NewReader(chunk))
	req.Header.Set("Content-Type", "application/octet-stream")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func parseResponse(t *testing.T, w *httptest.ResponseRecorder) *TestResponse {
	t.Helper()
	var resp TestResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "Status: %d, Body: %s", w.Code, w.Body.String())
	return &resp
}

func metadataBody(ownerID int64, filename string, payload []byte) map[string]interface{} {
	return map[string]interface{}{
		"artifact_id":   "local-" + filename,
		"owner_id":      ownerID,
		"filename":      filename,
		"declared_size": len(payload),
		"mime_type":     "application/dicom",
		"checksum":      checksum.Sum(payload),
		"metadata":      `{"description":"Head MR","modality":"MR","subject_name":"DOE^JANE","group_description":"T1 axial"}`,
	}
}

// syncPayload drives one artifact all the way to ack_received and returns the
// server session id and artifact reference.
func (s *E2ETestSuite) syncPayload(t *testing.T, ownerID int64, filename string, payload []byte) (sessionID, artifactRef string) {
	t.Helper()

	w := s.makeJSONRequest("POST", "/api/v1/sync/metadata", metadataBody(ownerID, filename, payload), testDeviceToken)
	require.Equal(t, http.StatusOK, w.Code)
	resp := parseResponse(t, w)
	require.True(t, resp.Success)
	sessionID = resp.Data["session_id"].(string)

	w = s.makeBinaryRequest(fmt.Sprintf("/api/v1/sync/sessions/%s/binary?offset=0", sessionID), payload, testDeviceToken)
	require.Equal(t, http.StatusOK, w.Code)
	resp = parseResponse(t, w)
	require.True(t, resp.Success)
	require.Equal(t, string(domain.SessionSynced), resp.Data["status"])
	artifactRef = resp.Data["server_artifact_ref"].(string)

	w = s.makeJSONRequest("POST", fmt.Sprintf("/api/v1/sync/sessions/%s/ack", sessionID), nil, testDeviceToken)
	require.Equal(t, http.StatusOK, w.Code)
	resp = parseResponse(t, w)
	require.True(t, resp.Success)
	require.Equal(t, string(domain.SessionAckReceived), resp.Data["status"])

	return sessionID, artifactRef
}

// =============================================================================
// Flow 1: full sync lifecycle through to payload retrieval
// =============================================================================

func TestFlow1_FullSyncLifecycle(t *testing.T) {
	suite := setupTestSuite(t)
	payload := []byte("DICM pixel data for the first slice of the scan")
	var sessionID, artifactRef string

	t.Run("POST /sync/metadata", func(t *testing.T) {
		w := suite.makeJSONRequest("POST", "/api/v1/sync/metadata", metadataBody(7, "scan_0001.dcm", payload), testDeviceToken)
		require.Equal(t, http.StatusOK, w.Code)

		resp := parseResponse(t, w)
		require.True(t, resp.Success)
		assert.Equal(t, string(domain.SessionMetadataUploaded), resp.Data["status"])
		sessionID = resp.Data["session_id"].(string)
		require.NotEmpty(t, sessionID)
	})

	t.Run("PUT /sync/sessions/:id/binary in chunks", func(t *testing.T) {
		split := len(payload) / 2

		w := suite.makeBinaryRequest(fmt.Sprintf("/api/v1/sync/sessions/%s/binary?offset=0", sessionID), payload[:split], testDeviceToken)
		require.Equal(t, http.StatusOK, w.Code)
		resp := parseResponse(t, w)
		require.True(t, resp.Success)
		assert.Equal(t, string(domain.SessionBinaryUploading), resp.Data["status"])
		assert.Equal(t, float64(split), resp.Data["bytes_received"])

		w = suite.makeBinaryRequest(fmt.Sprintf("/api/v1/sync/sessions/%s/binary?offset=%d", sessionID, split), payload[split:], testDeviceToken)
		require.Equal(t, http.StatusOK, w.Code)
		resp = parseResponse(t, w)
		require.True(t, resp.Success)
		assert.Equal(t, string(domain.SessionSynced), resp.Data["status"])
		artifactRef = resp.Data["server_artifact_ref"].(string)
		require.NotEmpty(t, artifactRef)
	})

	t.Run("POST /sync/sessions/:id/ack", func(t *testing.T) {
		w := suite.makeJSONRequest("POST", fmt.Sprintf("/api/v1/sync/sessions/%s/ack", sessionID), nil, testDeviceToken)
		require.Equal(t, http.StatusOK, w.Code)

		resp := parseResponse(t, w)
		require.True(t, resp.Success)
		assert.Equal(t, string(domain.SessionAckReceived), resp.Data["status"])
		assert.NotEmpty(t, resp.Data["acknowledged_at"])
	})

	t.Run("GET /collections/:uid/artifacts", func(t *testing.T) {
		var coll domain.Collection
		require.NoError(t, suite.db.Where("owner_id = ?", 7).First(&coll).Error)

		w := suite.makeJSONRequest("GET", "/api/v1/collections/"+coll.CollectionUID+"/artifacts", nil, "")
		require.Equal(t, http.StatusOK, w.Code)

		resp := parseResponse(t, w)
		require.True(t, resp.Success)
		groups := resp.Data["groups"].([]interface{})
		require.Len(t, groups, 1)
		artifacts := groups[0].(map[string]interface{})["artifacts"].([]interface{})
		require.Len(t, artifacts, 1)
		assert.Equal(t, artifactRef, artifacts[0].(map[string]interface{})["artifact_uid"])
	})

	t.Run("GET /artifacts/:uid/reference and redeem", func(t *testing.T) {
		w := suite.makeJSONRequest("GET", "/api/v1/artifacts/"+artifactRef+"/reference?ttl=5m", nil, "")
		require.Equal(t, http.StatusOK, w.Code)

		resp := parseResponse(t, w)
		require.True(t, resp.Success)
		url := resp.Data["url"].(string)
		require.NotEmpty(t, url)

		w = suite.makeJSONRequest("GET", url, nil, "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, payload, w.Body.Bytes(), "retrieved payload must be byte-identical")
	})
}

// =============================================================================
// Flow 2: dedup short circuit for already-stored content
// =============================================================================

func TestFlow2_DedupShortCircuit(t *testing.T) {
	suite := setupTestSuite(t)
	payload := []byte("identical scan content pushed twice")

	_, firstRef := suite.syncPayload(t, 7, "scan_0002.dcm", payload)

	t.Run("second metadata submission skips the binary phase", func(t *testing.T) {
		w := suite.makeJSONRequest("POST", "/api/v1/sync/metadata", metadataBody(7, "scan_0002.dcm", payload), testDeviceToken)
		require.Equal(t, http.StatusOK, w.Code)

		resp := parseResponse(t, w)
		require.True(t, resp.Success)
		assert.Equal(t, string(domain.SessionAckReceived), resp.Data["status"])
		assert.Equal(t, firstRef, resp.Data["server_artifact_ref"])
	})

	t.Run("no second artifact row exists", func(t *testing.T) {
		var count int64
		require.NoError(t, suite.db.Model(&domain.Artifact{}).
			Where("owner_id = ? AND checksum = ?", 7, checksum.Sum(payload)).
			Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})

	t.Run("same checksum under a different owner is stored separately", func(t *testing.T) {
		w := suite.makeJSONRequest("POST", "/api/v1/sync/metadata", metadataBody(8, "scan_0002.dcm", payload), testDeviceToken)
		require.Equal(t, http.StatusOK, w.Code)

		resp := parseResponse(t, w)
		require.True(t, resp.Success)
		assert.Equal(t, string(domain.SessionMetadataUploaded), resp.Data["status"], "dedup is scoped per owner")
	})
}

// =============================================================================
// Flow 3: checksum mismatch fails the session, retry succeeds
// =============================================================================

func TestFlow3_ChecksumMismatchAndRetry(t *testing.T) {
	suite := setupTestSuite(t)
	payload := []byte("the bytes the device actually holds")
	corrupted := []byte("the bytes the network made of them!")
	require.Equal(t, len(payload), len(corrupted), "same declared size, different content")

	body := metadataBody(7, "scan_0003.dcm", payload)
	var sessionID string

	t.Run("corrupted transfer is rejected before any artifact exists", func(t *testing.T) {
		w := suite.makeJSONRequest("POST", "/api/v1/sync/metadata", body, testDeviceToken)
		require.Equal(t, http.StatusOK, w.Code)
		sessionID = parseResponse(t, w).Data["session_id"].(string)

		w = suite.makeBinaryRequest(fmt.Sprintf("/api/v1/sync/sessions/%s/binary?offset=0", sessionID), corrupted, testDeviceToken)
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		resp := parseResponse(t, w)
		require.NotNil(t, resp.Error)
		assert.Equal(t, "CHECKSUM_MISMATCH", resp.Error.Code)

		var count int64
		require.NoError(t, suite.db.Model(&domain.Artifact{}).Count(&count).Error)
		assert.Zero(t, count, "failed verification must not create artifact rows")

		var sess domain.UploadSession
		require.NoError(t, suite.db.Where("session_id = ?", sessionID).First(&sess).Error)
		assert.Equal(t, domain.SessionFailed, sess.Status)
	})

	t.Run("ack of a failed session is refused", func(t *testing.T) {
		w := suite.makeJSONRequest("POST", fmt.Sprintf("/api/v1/sync/sessions/%s/ack", sessionID), nil, testDeviceToken)
		require.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "NOT_SYNCED", parseResponse(t, w).Error.Code)
	})

	t.Run("resubmitting metadata resets the session for retry", func(t *testing.T) {
		w := suite.makeJSONRequest("POST", "/api/v1/sync/metadata", body, testDeviceToken)
		require.Equal(t, http.StatusOK, w.Code)
		resp := parseResponse(t, w)
		require.True(t, resp.Success)
		assert.Equal(t, sessionID, resp.Data["session_id"], "retry reuses the same session")
		assert.Equal(t, string(domain.SessionMetadataUploaded), resp.Data["status"])
	})

	t.Run("correct bytes complete the session", func(t *testing.T) {
		w := suite.makeBinaryRequest(fmt.Sprintf("/api/v1/sync/sessions/%s/binary?offset=0", sessionID), payload, testDeviceToken)
		require.Equal(t, http.StatusOK, w.Code)
		resp := parseResponse(t, w)
		require.True(t, resp.Success)
		assert.Equal(t, string(domain.SessionSynced), resp.Data["status"])

		w = suite.makeJSONRequest("POST", fmt.Sprintf("/api/v1/sync/sessions/%s/ack", sessionID), nil, testDeviceToken)
		require.Equal(t, http.StatusOK, w.Code)
	})
}

// =============================================================================
// Flow 4: interrupted transfer resumes from the server's offset
// =============================================================================

func TestFlow4_ResumableBinaryPhase(t *testing.T) {
	suite := setupTestSuite(t)
	payload := []byte("0123456789abcdefghij")

	w := suite.makeJSONRequest("POST", "/api/v1/sync/metadata", metadataBody(7, "scan_0004.dcm", payload), testDeviceToken)
	require.Equal(t, http.StatusOK, w.Code)
	sessionID := parseResponse(t, w).Data["session_id"].(string)

	t.Run("first chunk lands", func(t *testing.T) {
		w := suite.makeBinaryRequest(fmt.Sprintf("/api/v1/sync/sessions/%s/binary?offset=0", sessionID), payload[:8], testDeviceToken)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, float64(8), parseResponse(t, w).Data["bytes_received"])
	})

	t.Run("stale offset is rejected with the expected one", func(t *testing.T) {
		w := suite.makeBinaryRequest(fmt.Sprintf("/api/v1/sync/sessions/%s/binary?offset=0", sessionID), payload[:8], testDeviceToken)
		require.Equal(t, http.StatusConflict, w.Code)

		resp := parseResponse(t, w)
		require.NotNil(t, resp.Error)
		assert.Equal(t, "OFFSET_MISMATCH", resp.Error.Code)
		assert.Equal(t, float64(8), resp.Error.Details["expected_offset"])
	})

	t.Run("resume from the server offset completes", func(t *testing.T) {
		w := suite.makeBinaryRequest(fmt.Sprintf("/api/v1/sync/sessions/%s/binary?offset=8", sessionID), payload[8:], testDeviceToken)
		require.Equal(t, http.StatusOK, w.Code)
		resp := parseResponse(t, w)
		require.True(t, resp.Success)
		assert.Equal(t, string(domain.SessionSynced), resp.Data["status"])
	})

	t.Run("repeating the final chunk is idempotent", func(t *testing.T) {
		w := suite.makeBinaryRequest(fmt.Sprintf("/api/v1/sync/sessions/%s/binary?offset=8", sessionID), payload[8:], testDeviceToken)
		require.Equal(t, http.StatusOK, w.Code)
		resp := parseResponse(t, w)
		require.True(t, resp.Success)
		assert.Equal(t, string(domain.SessionSynced), resp.Data["status"])
	})
}

// =============================================================================
// Flow 5: ingest surface requires the device token
// =============================================================================

func TestFlow5_DeviceTokenGuard(t *testing.T) {
	suite := setupTestSuite(t)
	payload := []byte("guarded content")

	t.Run("missing token", func(t *testing.T) {
		w := suite.makeJSONRequest("POST", "/api/v1/sync/metadata", metadataBody(7, "scan_0005.dcm", payload), "")
		require.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "AUTH_MISSING", parseResponse(t, w).Error.Code)
	})

	t.Run("wrong token", func(t *testing.T) {
		w := suite.makeJSONRequest("POST", "/api/v1/sync/metadata", metadataBody(7, "scan_0005.dcm", payload), "wrong-token")
		require.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "AUTH_INVALID", parseResponse(t, w).Error.Code)
	})

	t.Run("viewer endpoints stay public", func(t *testing.T) {
		w := suite.makeJSONRequest("GET", "/api/v1/collections/nonexistent/artifacts", nil, "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("unknown session returns 404", func(t *testing.T) {
		w := suite.makeBinaryRequest("/api/v1/sync/sessions/no-such-session/binary?offset=0", payload, testDeviceToken)
		require.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "NOT_FOUND", parseResponse(t, w).Error.Code)
	})
}

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}
