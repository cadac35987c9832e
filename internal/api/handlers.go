package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"chmap/internal/event"
	"chmap/internal/mapping"
	"chmap/internal/metrics"
	"chmap/internal/provider/clickhouse"
	"chmap/internal/storage"
	"chmap/internal/validate"
)

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encode response", slogErr(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

// handleDatabases lists the databases the wizard may browse.
func (s *Server) handleDatabases(w http.ResponseWriter, r *http.Request) {
	names, err := s.schema.Databases(r.Context())
	if err != nil {
		s.log.Error("list databases", slogErr(err))
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"databases": names})
}

// handleTables lists the tables of one database.
func (s *Server) handleTables(w http.ResponseWriter, r *http.Request) {
	db := mux.Vars(r)["db"]

	names, err := s.schema.Tables(r.Context(), db)
	if err != nil {
		s.log.Error("list tables", "database", db, slogErr(err))
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"database": db, "tables": names})
}

// handleTopics lists the topics visible on the cluster.
func (s *Server) handleTopics(w http.ResponseWriter, r *http.Request) {
	names, err := s.sampler.Topics(r.Context())
	if err != nil {
		s.log.Error("list topics", slogErr(err))
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"topics": names})
}

// handleColumns returns the destination schema of a table, with the
// mappable flag resolved per column.
func (s *Server) handleColumns(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	db, table := vars["db"], vars["table"]

	cols, err := s.schema.Columns(r.Context(), db, table)
	if err != nil {
		s.log.Error("fetch columns", "database", db, "table", table, slogErr(err))
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	if len(cols) == 0 {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("table %s.%s not found or has no columns", db, table))
		return
	}

	type columnView struct {
		mapping.DestinationColumn
		Mappable bool `json:"mappable"`
	}
	out := make([]columnView, 0, len(cols))
	for _, c := range cols {
		out = append(out, columnView{DestinationColumn: c, Mappable: c.Mappable()})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"columns": out})
}

// handleSample returns the latest event of a topic plus its flattened
// paths and inferred types, which is what the wizard UI renders as the
// source field list.
func (s *Server) handleSample(w http.ResponseWriter, r *http.Request) {
	topic := mux.Vars(r)["topic"]

	raw, err := s.sampler.Sample(r.Context(), topic)
	if err != nil {
		s.log.Error("sample topic", "topic", topic, slogErr(err))
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	s.metrics.ObserveHistogram(metrics.MetricSampleBytes, float64(len(raw)), metrics.Labels{"topic": topic})

	paths := event.Flatten(raw)
	fields := make([]map[string]string, 0, len(paths))
	for _, p := range paths {
		v := event.Lookup(raw, p)
		field := map[string]string{
			"path": p,
			"type": string(event.Infer(v)),
		}
		if field["type"] == string(event.TypeString) {
			field["format"] = string(event.SniffString(v.String()))
		}
		fields = append(fields, field)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"topic":  topic,
		"event":  json.RawMessage(raw),
		"fields": fields,
	})
}

type autoMapRequest struct {
	Database string   `json:"database"`
	Table    string   `json:"table"`
	Topics   []string `json:"topics"`
}

type mappingResponse struct {
	Mappings mapping.Set `json:"mappings"`
	Changed  bool        `json:"changed"`
}

// handleAutoMap (re)builds the pipeline session from the requested
// destination table and topics, then runs auto-mapping. Re-posting with
// the same table refreshes the schema while preserving prior bindings.
func (s *Server) handleAutoMap(w http.ResponseWriter, r *http.Request) {
	pipelineID := mux.Vars(r)["id"]

	var req autoMapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if req.Database == "" || req.Table == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("database and table are required"))
		return
	}
	if n := len(req.Topics); n < 1 || n > 2 {
		s.writeError(w, http.StatusBadRequest, errors.New("topics must name one or two topics"))
		return
	}

	cols, err := s.schema.Columns(r.Context(), req.Database, req.Table)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	if len(cols) == 0 {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("table %s.%s not found or has no columns", req.Database, req.Table))
		return
	}

	sources := make([]mapping.Source, 0, len(req.Topics))
	for _, topic := range req.Topics {
		raw, err := s.sampler.Sample(r.Context(), topic)
		if err != nil {
			s.writeError(w, http.StatusBadGateway, fmt.Errorf("sample %q: %w", topic, err))
			return
		}
		sources = append(sources, mapping.Source{Topic: topic, Event: raw})
	}

	var resp mappingResponse
	_ = s.withSession(pipelineID, func(sess *session) error {
		if sess.database != req.Database || sess.table != req.Table {
			// Selection changed; prior bindings no longer apply.
			sess.set = mapping.InitFromSchema(cols)
		} else {
			sess.set = mapping.RefreshSchema(cols, sess.set)
		}
		sess.database, sess.table = req.Database, req.Table
		sess.columns = cols
		sess.sources = sources

		sess.set, resp.Changed = mapping.AutoMap(sess.set, sess.sources)
		resp.Mappings = sess.set

		s.metrics.IncCounter(metrics.MetricAutomapTotal, 1, metrics.Labels{
			"mode":    sess.mode(),
			"changed": strconv.FormatBool(resp.Changed),
		})
		return nil
	})

	s.log.Info("auto-mapped pipeline",
		"pipeline", pipelineID,
		"table", req.Database+"."+req.Table,
		"topics", req.Topics,
		"changed", resp.Changed,
	)
	s.writeJSON(w, http.StatusOK, resp)
}

type manualMapRequest struct {
	ColumnIndex int    `json:"column_index"`
	FieldPath   string `json:"field_path"`
	SourceTopic string `json:"source_topic,omitempty"`
}

// handleManualMap binds or unbinds one column. An empty field_path
// explicitly unmaps.
func (s *Server) handleManualMap(w http.ResponseWriter, r *http.Request) {
	pipelineID := mux.Vars(r)["id"]

	var req manualMapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	var resp mappingResponse
	err := s.withSession(pipelineID, func(sess *session) error {
		if sess.set == nil {
			return errNoSession
		}
		if req.ColumnIndex < 0 || req.ColumnIndex >= len(sess.set) {
			return fmt.Errorf("column_index %d out of range [0,%d)", req.ColumnIndex, len(sess.set))
		}
		sess.set = mapping.ManualMap(sess.set, req.ColumnIndex, req.FieldPath, sess.sources, req.SourceTopic)
		resp.Mappings = sess.set
		resp.Changed = true
		return nil
	})
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleReset clears every binding and re-runs auto-mapping against the
// session's current sources.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	pipelineID := mux.Vars(r)["id"]

	var resp mappingResponse
	err := s.withSession(pipelineID, func(sess *session) error {
		if sess.set == nil {
			return errNoSession
		}
		sess.set, resp.Changed = mapping.ResetAndAutoMap(sess.set, sess.sources)
		resp.Mappings = sess.set

		s.metrics.IncCounter(metrics.MetricAutomapTotal, 1, metrics.Labels{
			"mode":    sess.mode(),
			"changed": strconv.FormatBool(resp.Changed),
		})
		return nil
	})
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleValidate recomputes the verdict for the session's current state.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	pipelineID := mux.Vars(r)["id"]

	var report validate.Report
	err := s.withSession(pipelineID, func(sess *session) error {
		if sess.set == nil {
			return errNoSession
		}
		report = validate.Validate(sess.set, sess.sourcePaths())
		return nil
	})
	if err != nil {
		s.writeSessionError(w, err)
		return
	}

	s.metrics.IncCounter(metrics.MetricValidateTotal, 1, metrics.Labels{
		"category": string(report.Verdict.Category),
		"blocking": strconv.FormatBool(report.Verdict.Blocking),
	})
	s.writeJSON(w, http.StatusOK, report)
}

type deployRequest struct {
	AcknowledgeWarnings bool `json:"acknowledge_warnings"`
}

type deployResponse struct {
	Outcome string           `json:"outcome"`
	Verdict validate.Verdict `json:"verdict"`
	// Target is the quoted destination table, set on a successful save so
	// the pipeline runtime can interpolate it into its insert statements.
	Target string `json:"target,omitempty"`
}

// handleDeploy is the action gate: a blocking verdict refuses outright, a
// warning verdict requires acknowledge_warnings, and a clean verdict (or
// an acknowledged warning) persists the mapping through the store.
func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	pipelineID := mux.Vars(r)["id"]

	var req deployRequest
	if r.Body != nil {
		// Body is optional for clean verdicts; decode errors on an empty
		// body are ignored.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	var (
		resp deployResponse
		recs []storage.Record
	)
	err := s.withSession(pipelineID, func(sess *session) error {
		if sess.set == nil {
			return errNoSession
		}
		report := validate.Validate(sess.set, sess.sourcePaths())
		resp.Verdict = report.Verdict

		switch {
		case report.Verdict.Blocking:
			resp.Outcome = "rejected"
		case report.Verdict.Category != validate.CategoryNone && !req.AcknowledgeWarnings:
			resp.Outcome = "unconfirmed"
		default:
			resp.Outcome = "saved"
			resp.Target = clickhouse.QuoteIdentifier(sess.database) + "." + clickhouse.QuoteIdentifier(sess.table)
			recs = storage.RecordsFromSet(sess.set)
		}
		return nil
	})
	if err != nil {
		s.writeSessionError(w, err)
		return
	}

	s.metrics.IncCounter(metrics.MetricDeployTotal, 1, metrics.Labels{"outcome": resp.Outcome})

	if resp.Outcome != "saved" {
		s.log.Info("deploy refused",
			"pipeline", pipelineID,
			"outcome", resp.Outcome,
			"category", resp.Verdict.Category,
		)
		s.writeJSON(w, http.StatusConflict, resp)
		return
	}

	if err := s.store.SaveMapping(r.Context(), pipelineID, recs); err != nil {
		s.log.Error("persist mapping", "pipeline", pipelineID, slogErr(err))
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.log.Info("deployed pipeline mapping", "pipeline", pipelineID, "columns", len(recs))
	s.writeJSON(w, http.StatusOK, resp)
}

var errNoSession = errors.New("pipeline has no mapping session; run auto-map first")

func (s *Server) writeSessionError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, errNoSession) {
		status = http.StatusNotFound
	}
	s.writeError(w, status, err)
}
