package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/vx-labs/perch/broker"
	"github.com/vx-labs/perch/broker/stats"
	"github.com/vx-labs/perch/catalog"
	"go.uber.org/zap"
)

type adminServer struct {
	broker *broker.Broker
	logger *zap.Logger
}

func newAdminRouter(b *broker.Broker, logger *zap.Logger) http.Handler {
	s := &adminServer{broker: b, logger: logger}
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.health)
	r.Handle("/metrics", stats.Handler())
	r.Get("/clients", s.listClients)
	r.Route("/streams", func(r chi.Router) {
		r.Get("/", s.listStreams)
		r.Post("/", s.createStream)
		r.Route("/{streamID}/topics", func(r chi.Router) {
			r.Post("/", s.createTopic)
			r.Route("/{topicID}/groups", func(r chi.Router) {
				r.Post("/", s.createGroup)
				r.Delete("/{groupID}", s.deleteGroup)
			})
		})
	})
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (s *adminServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		s.logger.Debug("http request served", zap.String("http_method", r.Method), zap.String("http_path", r.URL.Path),
			zap.Int("http_status", recorder.status), zap.Duration("http_request_duration", time.Since(start)))
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func httpStatus(code catalog.Code) int {
	switch code {
	case catalog.CodeStreamIDNotFound, catalog.CodeTopicIDNotFound, catalog.CodePartitionNotFound,
		catalog.CodeConsumerGroupNotFound, catalog.CodeClientNotFound:
		return http.StatusNotFound
	case catalog.CodeStreamIDAlreadyExists, catalog.CodeStreamNameAlreadyExists, catalog.CodeTopicIDAlreadyExists,
		catalog.CodeTopicNameAlreadyExists, catalog.CodeConsumerGroupAlreadyExists, catalog.CodeConsumerGroupNameAlreadyExists:
		return http.StatusConflict
	case catalog.CodeIOError, catalog.CodeError, catalog.CodeCannotCreatePartition,
		catalog.CodeCannotCreateConsumerGroupInfo, catalog.CodeCannotDeleteConsumerGroupInfo:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func (s *adminServer) writeError(w http.ResponseWriter, err error) {
	code := catalog.CodeOf(err)
	status := httpStatus(code)
	if status == http.StatusInternalServerError {
		s.logger.Error("admin request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]interface{}{
		"code":  code,
		"name":  code.Name(),
		"error": err.Error(),
	})
}

func uint32Param(r *http.Request, name string) (uint32, error) {
	v, err := strconv.ParseUint(chi.URLParam(r, name), 10, 32)
	if err != nil {
		return 0, catalog.New(catalog.CodeInvalidFormat)
	}
	return uint32(v), nil
}

type createRequest struct {
	ID         uint32 `json:"id"`
	Name       string `json:"name"`
	Partitions uint32 `json:"partitions"`
}

func decodeCreateRequest(r *http.Request) (createRequest, error) {
	req := createRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, catalog.Wrap(err, catalog.CodeInvalidFormat)
	}
	return req, nil
}

func (s *adminServer) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "passing", "msg": "service is running"})
}

func (s *adminServer) listClients(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.broker.Clients())
}

func (s *adminServer) listStreams(w http.ResponseWriter, r *http.Request) {
	withSegments, _ := strconv.ParseBool(r.URL.Query().Get("segments"))
	writeJSON(w, http.StatusOK, s.broker.Streams(withSegments))
}

func (s *adminServer) createStream(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCreateRequest(r)
	if err == nil {
		err = s.broker.CreateStream(r.Context(), req.ID, req.Name)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *adminServer) createTopic(w http.ResponseWriter, r *http.Request) {
	streamID, err := uint32Param(r, "streamID")
	if err != nil {
		s.writeError(w, err)
		return
	}
	req, err := decodeCreateRequest(r)
	if err == nil {
		err = s.broker.CreateTopic(r.Context(), streamID, req.ID, req.Name, req.Partitions)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *adminServer) createGroup(w http.ResponseWriter, r *http.Request) {
	streamID, err := uint32Param(r, "streamID")
	if err != nil {
		s.writeError(w, err)
		return
	}
	topicID, err := uint32Param(r, "topicID")
	if err != nil {
		s.writeError(w, err)
		return
	}
	req, err := decodeCreateRequest(r)
	if err == nil {
		err = s.broker.CreateConsumerGroup(r.Context(), streamID, topicID, req.ID, req.Name)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *adminServer) deleteGroup(w http.ResponseWriter, r *http.Request) {
	ids := make([]uint32, 3)
	for idx, name := range []string{"streamID", "topicID", "groupID"} {
		v, err := uint32Param(r, name)
		if err != nil {
			s.writeError(w, err)
			return
		}
		ids[idx] = v
	}
	if err := s.broker.DeleteConsumerGroup(r.Context(), ids[0], ids[1], ids[2]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
