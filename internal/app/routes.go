package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wisbric/crawlcore/internal/config"
	"github.com/wisbric/crawlcore/internal/httpserver"
	"github.com/wisbric/crawlcore/pkg/auditconfig"
	"github.com/wisbric/crawlcore/pkg/auditexport"
	"github.com/wisbric/crawlcore/pkg/auditlog"
	"github.com/wisbric/crawlcore/pkg/notify"
	"github.com/wisbric/crawlcore/pkg/retention"
	"github.com/wisbric/crawlcore/pkg/sharepoint"
	"github.com/wisbric/crawlcore/pkg/tenant"
)

// logAudit writes an audit entry if the tenant's AuditConfigService
// allows the action. Failures to log are not fatal to the request, only
// reported to the logger.
func logAudit(ctx context.Context, writer *auditlog.Writer, cfg *auditconfig.Service, logger *slog.Logger, tenantID uuid.UUID, action, entityType string, entityID uuid.UUID, outcome auditlog.Outcome, errMsg *string) {
	if cfg != nil && !cfg.ShouldLog(tenantID, action) {
		return
	}
	writer.Log(auditlog.Entry{
		TenantID:     tenantID,
		ActorType:    auditlog.ActorAPIKey,
		Action:       action,
		EntityType:   entityType,
		EntityID:     entityID,
		Outcome:      outcome,
		ErrorMessage: errMsg,
		Timestamp:    time.Now(),
	})
}

// createExportRequest is the body of POST /api/v1/audit/exports.
type createExportRequest struct {
	Format     auditexport.Format `json:"format" validate:"required,oneof=csv jsonl"`
	Action     string             `json:"action"`
	EntityType string             `json:"entity_type"`
}

// mountExportRoutes wires the AuditExportService onto the API router:
// create an export job, poll its status, and request cancellation. The
// actual work runs in a background goroutine per job and streams to
// cfg.ExportDir.
func mountExportRoutes(srv *httpserver.Server, svc *auditexport.Service, jobs *auditexport.JobStore, cfg *config.Config, logger *slog.Logger, notifier *notify.Notifier, auditWriter *auditlog.Writer, auditCfg *auditconfig.Service) {
	ttl := time.Duration(cfg.ExportMaxAgeHours) * time.Hour

	srv.APIRouter.Post("/audit/exports", func(w http.ResponseWriter, r *http.Request) {
		t := tenant.FromContext(r.Context())

		var req createExportRequest
		if err := httpserver.Decode(r, &req); err != nil {
			httpserver.RespondError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		if req.Format != auditexport.FormatCSV && req.Format != auditexport.FormatJSONL {
			httpserver.RespondError(w, http.StatusBadRequest, "invalid_request", "format must be csv or jsonl")
			return
		}

		job, err := jobs.Create(r.Context(), t.ID, req.Format, ttl, cfg.MaxConcurrentExports)
		if errors.Is(err, auditexport.ErrConcurrencyLimitExceeded) {
			httpserver.RespondError(w, http.StatusTooManyRequests, "concurrency_limit", err.Error())
			return
		}
		if err != nil {
			logger.Error("export: creating job", "error", err)
			httpserver.RespondError(w, http.StatusInternalServerError, "internal", "failed to create export job")
			return
		}

		logAudit(r.Context(), auditWriter, auditCfg, logger, t.ID, "export.request", "export_job", job.JobID, auditlog.OutcomeSuccess, nil)

		filter := auditexport.Filter{TenantID: t.ID, Action: req.Action, EntityType: req.EntityType}
		go runExport(context.Background(), svc, jobs, cfg, logger, notifier, auditWriter, auditCfg, job, filter)

		httpserver.Respond(w, http.StatusAccepted, job)
	})

	srv.APIRouter.Get("/audit/exports/{jobID}", func(w http.ResponseWriter, r *http.Request) {
		t := tenant.FromContext(r.Context())
		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			httpserver.RespondError(w, http.StatusBadRequest, "invalid_request", "invalid job id")
			return
		}
		job, err := jobs.Get(r.Context(), t.ID, jobID)
		if err != nil {
			logger.Error("export: fetching job", "error", err)
			httpserver.RespondError(w, http.StatusInternalServerError, "internal", "failed to fetch export job")
			return
		}
		if job == nil {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "export job not found or expired")
			return
		}
		httpserver.Respond(w, http.StatusOK, job)
	})

	srv.APIRouter.Post("/audit/exports/{jobID}/cancel", func(w http.ResponseWriter, r *http.Request) {
		t := tenant.FromContext(r.Context())
		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			httpserver.RespondError(w, http.StatusBadRequest, "invalid_request", "invalid job id")
			return
		}
		if err := jobs.RequestCancel(r.Context(), t.ID, jobID); err != nil {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		logAudit(r.Context(), auditWriter, auditCfg, logger, t.ID, "export.cancel", "export_job", jobID, auditlog.OutcomeSuccess, nil)
		httpserver.Respond(w, http.StatusAccepted, map[string]string{"status": "cancel_requested"})
	})
}

// runExport streams the requested export to a file and updates the job
// record as it progresses, notifying Slack on terminal failure/success.
func runExport(ctx context.Context, svc *auditexport.Service, jobs *auditexport.JobStore, cfg *config.Config, logger *slog.Logger, notifier *notify.Notifier, auditWriter *auditlog.Writer, auditCfg *auditconfig.Service, job *auditexport.Job, filter auditexport.Filter) {
	job.Status = auditexport.JobProcessing
	if err := jobs.Save(ctx, job); err != nil {
		logger.Error("export: saving processing status", "error", err, "job_id", job.JobID)
	}

	targetPath := filepath.Join(cfg.ExportDir, job.TenantID.String()+"_"+job.JobID.String()+"."+string(job.Format))

	result, err := svc.StreamToFile(ctx, filter, targetPath, auditexport.StreamToFileOptions{
		Format:           job.Format,
		BatchSize:        cfg.ExportBatchSize,
		BufferSize:       cfg.ExportBufferSize,
		ProgressInterval: cfg.ExportProgressInterval,
		ProgressCallback: func(ctx context.Context, processed, total int64) error {
			job.ProcessedRecords = processed
			job.TotalRecords = total
			job.Progress = job.Percent()
			return jobs.Save(ctx, job)
		},
		CancellationCheck: func(ctx context.Context) (bool, error) {
			fresh, err := jobs.Get(ctx, job.TenantID, job.JobID)
			if err != nil || fresh == nil {
				return false, err
			}
			return fresh.Cancelled, nil
		},
	}, logger)

	switch {
	case err != nil:
		job.Status = auditexport.JobFailed
		_ = notifier.ExportFailed(ctx, job.TenantID, job.JobID, err.Error())
		errMsg := err.Error()
		logAudit(ctx, auditWriter, auditCfg, logger, job.TenantID, "export.fail", "export_job", job.JobID, auditlog.OutcomeFailure, &errMsg)
	case result.Cancelled:
		job.Status = auditexport.JobCancelled
	default:
		job.Status = auditexport.JobCompleted
		job.Progress = 100
		job.ProcessedRecords = result.Processed
		job.TotalRecords = result.Total
		path := targetPath
		job.FilePath = &path
		_ = notifier.ExportCompleted(ctx, job.TenantID, job.JobID, string(job.Format), result.Processed)
		logAudit(ctx, auditWriter, auditCfg, logger, job.TenantID, "export.complete", "export_job", job.JobID, auditlog.OutcomeSuccess, nil)
	}
	if err := jobs.Save(ctx, job); err != nil {
		logger.Error("export: saving terminal status", "error", err, "job_id", job.JobID)
	}
}

// sharePointNotification is the JSON body SharePoint posts to the
// webhook endpoint.
type sharePointNotification struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	ChangeKey      string    `json:"change_key"`
	ClientState    string    `json:"client_state"`
	DeltaToken     *string   `json:"delta_token,omitempty"`
	Resource       struct {
		ItemID         string `json:"item_id"`
		ContentType    string `json:"content_type"`
		ContentPreview []byte `json:"content_preview,omitempty"`
	} `json:"resource"`
}

// mountSharePointWebhook wires the SharePoint change-notification
// webhook. Unauthenticated by design: SharePoint authenticates via the
// shared clientState secret, not an API key.
func mountSharePointWebhook(srv *httpserver.Server, proc *sharepoint.Processor, logger *slog.Logger) {
	srv.Router.Post("/webhooks/sharepoint", func(w http.ResponseWriter, r *http.Request) {
		var body sharePointNotification
		dec := json.NewDecoder(r.Body)
		if err := dec.Decode(&body); err != nil {
			httpserver.RespondError(w, http.StatusBadRequest, "invalid_request", "malformed notification body")
			return
		}

		n := sharepoint.Notification{
			SubscriptionID: body.SubscriptionID,
			ChangeKey:      body.ChangeKey,
			ClientState:    body.ClientState,
			DeltaToken:     body.DeltaToken,
			Resource: sharepoint.ResourceData{
				ItemID:         body.Resource.ItemID,
				ContentType:    body.Resource.ContentType,
				ContentPreview: body.Resource.ContentPreview,
			},
		}

		outcome, err := proc.Process(r.Context(), n)
		switch {
		case errors.Is(err, sharepoint.ErrClientStateMismatch), errors.Is(err, sharepoint.ErrUnknownSubscription):
			httpserver.RespondError(w, http.StatusForbidden, "forbidden", err.Error())
			return
		case err != nil:
			logger.Error("sharepoint webhook: processing notification", "error", err)
			httpserver.RespondError(w, http.StatusInternalServerError, "internal", "failed to process notification")
			return
		}
		httpserver.Respond(w, http.StatusOK, map[string]string{"outcome": string(outcome)})
	})
}

// retentionSweepResponse reports how many rows a manual sweep deleted.
type retentionSweepResponse struct {
	QuestionsDeleted int64 `json:"questions_deleted"`
	AppRunsDeleted   int64 `json:"app_runs_deleted"`
}

// mountRetentionRoutes exposes a manual admin-triggered retention sweep
// (the scheduled sweep is expected to run from a cron-invoked worker
// mode, not modeled here since it has no HTTP surface of its own).
func mountRetentionRoutes(srv *httpserver.Server, svc *retention.Service, logger *slog.Logger) {
	srv.APIRouter.Post("/admin/retention/sweep", func(w http.ResponseWriter, r *http.Request) {
		questions, appRuns, err := svc.SweepAll(r.Context())
		if verr, ok := retention.AsValidationError(err); ok {
			httpserver.RespondError(w, http.StatusUnprocessableEntity, "validation_error", verr.Error())
			return
		}
		if err != nil {
			logger.Error("retention: running sweep", "error", err)
			httpserver.RespondError(w, http.StatusInternalServerError, "internal", "retention sweep failed")
			return
		}
		httpserver.Respond(w, http.StatusOK, retentionSweepResponse{QuestionsDeleted: questions, AppRunsDeleted: appRuns})
	})
}
