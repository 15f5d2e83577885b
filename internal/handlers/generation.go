package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/fablearn/fablearn-backend/internal/logger"
	"github.com/fablearn/fablearn-backend/internal/requestdata"
	"github.com/fablearn/fablearn-backend/internal/services"
	"github.com/fablearn/fablearn-backend/internal/types"
)

type GenerationHandler struct {
	log         *logger.Logger
	coordinator services.GenerationCoordinator
	bridge      services.BackgroundBridge
	quota       services.QuotaService
	persistence services.PersistenceService
}

func NewGenerationHandler(
	log *logger.Logger,
	coordinator services.GenerationCoordinator,
	bridge services.BackgroundBridge,
	quota services.QuotaService,
	persistence services.PersistenceService,
) *GenerationHandler {
	return &GenerationHandler{
		log:         log.With("handler", "GenerationHandler"),
		coordinator: coordinator,
		bridge:      bridge,
		quota:       quota,
		persistence: persistence,
	}
}

type generationRequestBody struct {
	Text             string   `json:"text"`
	Level            string   `json:"level"`
	Tier             string   `json:"tier"`
	Genre            string   `json:"genre"`
	MainCharacter    string   `json:"main_character"`
	ImageStyle       string   `json:"image_style"`
	StudentLevel     string   `json:"student_level"`
	TopicsOfInterest []string `json:"topics_of_interest"`
}

func (b generationRequestBody) toRequest() types.GenerationRequest {
	return types.GenerationRequest{
		Text:             b.Text,
		Level:            types.Level(b.Level),
		Tier:             types.Tier(b.Tier),
		Genre:            types.Genre(b.Genre),
		MainCharacter:    b.MainCharacter,
		ImageStyle:       types.ImageStyle(b.ImageStyle),
		StudentLevel:     b.StudentLevel,
		TopicsOfInterest: b.TopicsOfInterest,
	}
}

// Submit starts a foreground generation run. The run itself reports
// through the event bus; the response only acknowledges the start.
func (h *GenerationHandler) Submit(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	var body generationRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	req := body.toRequest()
	if err := req.Validate(); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	userID := rd.UserID
	go func() {
		// Detached from the HTTP request: the run is bounded by its own
		// deadline, not the submission round trip.
		ctx, cancel := context.WithTimeout(context.Background(), 45*time.Minute)
		defer cancel()
		if _, err := h.coordinator.Generate(ctx, userID, req); err != nil {
			h.log.Warn("generation run failed", "user_id", userID, "tier", req.Tier, "error", err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"status": "started", "total_steps": req.TotalSteps()})
}

// SubmitBackground schedules the durable-upload path and returns the task
// id the completion events will reference.
func (h *GenerationHandler) SubmitBackground(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	var body generationRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	req := body.toRequest()

	if err := h.quota.CheckAndReserve(c.Request.Context(), rd.UserID); err != nil {
		RespondError(c, http.StatusTooManyRequests, "quota_exceeded", err)
		return
	}

	taskID, err := h.bridge.Submit(c.Request.Context(), rd.UserID, req)
	if err != nil {
		h.log.Error("background submit failed", "user_id", rd.UserID, "error", err)
		RespondError(c, http.StatusBadRequest, "background_submit_failed", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": taskID.String()})
}

func (h *GenerationHandler) Quota(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	used := h.quota.CountToday(c.Request.Context(), rd.UserID, time.Now())
	RespondOK(c, gin.H{
		"used":    used,
		"limit":   h.quota.DailyLimit(),
		"limited": h.quota.IsLimited(rd.UserID),
	})
}

func (h *GenerationHandler) GetStory(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	story, err := h.persistence.LoadStory(c.Request.Context(), id)
	if err != nil {
		h.log.Error("load story failed", "story_id", id, "error", err)
		RespondError(c, http.StatusInternalServerError, "load_story_failed", err)
		return
	}
	if story == nil {
		RespondError(c, http.StatusNotFound, "not_found", nil)
		return
	}
	RespondOK(c, gin.H{"story": story})
}

func (h *GenerationHandler) GetLecture(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}
	lecture, err := h.persistence.LoadLecture(c.Request.Context(), id)
	if err != nil {
		h.log.Error("load lecture failed", "lecture_id", id, "error", err)
		RespondError(c, http.StatusInternalServerError, "load_lecture_failed", err)
		return
	}
	if lecture == nil {
		RespondError(c, http.StatusNotFound, "not_found", nil)
		return
	}
	RespondOK(c, gin.H{"lecture": lecture})
}
