package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"ingest-pipeline/internal/coordinator"
	"ingest-pipeline/internal/entity"
	"ingest-pipeline/internal/service"
)

type Handler struct {
	batchSvc *service.BatchService
}

func NewHandler(batchSvc *service.BatchService) *Handler {
	return &Handler{batchSvc: batchSvc}
}

type enqueueItemDTO struct {
	Source     string `json:"source"`
	SourceType string `json:"source_type"`
	OriginURL  string `json:"origin_url,omitempty"`
}

type enqueueBatchDTO struct {
	LibraryID string           `json:"library_id"`
	Items     []enqueueItemDTO `json:"items"`
}

type enqueueBatchResp struct {
	BatchID string `json:"batch_id"`
	Jobs    int64  `json:"jobs"`
}

type startBatchResp struct {
	BatchID string `json:"batch_id"`
	Status  string `json:"status"`
}

type batchSummaryResp struct {
	BatchID    string `json:"batch_id"`
	Running    bool   `json:"running"`
	Total      int64  `json:"total"`
	Pending    int64  `json:"pending"`
	Processing int64  `json:"processing"`
	Completed  int64  `json:"completed"`
	Failed     int64  `json:"failed"`
}

type requeueDTO struct {
	IDs []int64 `json:"ids"`
}

type requeueResp struct {
	Requeued int64 `json:"requeued"`
}

// EnqueueBatch godoc
// @Summary Enqueue an ingestion batch
// @Description Inserts all items as pending jobs under a fresh batch id. The batch is not started; call /batches/{id}/start.
// @Tags batches
// @Accept json
// @Produce json
// @Param request body enqueueBatchDTO true "batch payload"
// @Success 201 {object} enqueueBatchResp
// @Failure 400 {object} apiError
// @Failure 500 {object} apiError
// @Router /batches [post]
func (h *Handler) EnqueueBatch(w http.ResponseWriter, r *http.Request) {
	var dto enqueueBatchDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	items := make([]entity.JobInput, 0, len(dto.Items))
	for _, it := range dto.Items {
		items = append(items, entity.JobInput{
			Source:     it.Source,
			SourceType: it.SourceType,
			OriginURL:  it.OriginURL,
		})
	}

	batchID, n, err := h.batchSvc.EnqueueBatch(r.Context(), service.EnqueueBatchRequest{
		LibraryID: dto.LibraryID,
		Items:     items,
	})
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, enqueueBatchResp{BatchID: batchID.String(), Jobs: n})
}

// StartBatch godoc
// @Summary Start processing a batch
// @Description Admits the batch and spawns its worker process. Fails when the batch is already running or capacity is exhausted.
// @Tags batches
// @Produce json
// @Param id path string true "batch id (uuid)"
// @Success 202 {object} startBatchResp
// @Failure 400 {object} apiError
// @Failure 409 {object} apiError
// @Failure 429 {object} apiError
// @Failure 503 {object} apiError
// @Router /batches/{id}/start [post]
func (h *Handler) StartBatch(w http.ResponseWriter, r *http.Request) {
	batchID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid batch id")
		return
	}

	if err := h.batchSvc.StartBatch(r.Context(), batchID); err != nil {
		switch {
		case errors.Is(err, coordinator.ErrAlreadyRunning):
			writeErr(w, http.StatusConflict, err.Error())
		case errors.Is(err, coordinator.ErrCapacityExceeded):
			writeErr(w, http.StatusTooManyRequests, err.Error())
		case errors.Is(err, coordinator.ErrShuttingDown):
			writeErr(w, http.StatusServiceUnavailable, err.Error())
		default:
			writeErr(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusAccepted, startBatchResp{BatchID: batchID.String(), Status: "started"})
}

// GetBatch godoc
// @Summary Get batch status summary
// @Description Per-status job counts, computed fresh from the jobs table.
// @Tags batches
// @Produce json
// @Param id path string true "batch id (uuid)"
// @Success 200 {object} batchSummaryResp
// @Failure 400 {object} apiError
// @Failure 500 {object} apiError
// @Router /batches/{id} [get]
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	batchID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid batch id")
		return
	}

	sum, running, err := h.batchSvc.Summary(r.Context(), batchID)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, batchSummaryResp{
		BatchID:    batchID.String(),
		Running:    running,
		Total:      sum.Total,
		Pending:    sum.Pending,
		Processing: sum.Processing,
		Completed:  sum.Completed,
		Failed:     sum.Failed,
	})
}

// RequeueJobs godoc
// @Summary Requeue terminal jobs
// @Description Returns completed or failed jobs to pending so the next worker run claims them again.
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body requeueDTO true "job ids"
// @Success 200 {object} requeueResp
// @Failure 400 {object} apiError
// @Failure 500 {object} apiError
// @Router /jobs/requeue [post]
func (h *Handler) RequeueJobs(w http.ResponseWriter, r *http.Request) {
	var dto requeueDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	n, err := h.batchSvc.Requeue(r.Context(), dto.IDs)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, requeueResp{Requeued: n})
}
