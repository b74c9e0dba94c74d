package management

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"crmflow/internal/automation"
	"crmflow/internal/cadence"
	"crmflow/internal/constants"
	"crmflow/internal/logger"
	"crmflow/pkg/errors"
)

type BaseHandler struct {
	Service Service
	Logger  logger.Logger
}

func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	status := errors.ToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.Logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	} else {
		h.Logger.WarnwCtx(c.Request.Context(), "Request rejected", "error", err, "path", c.Request.URL.Path)
	}

	c.JSON(status, errors.ToErrorResponse(err))
}

func (h *BaseHandler) bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return false
	}
	return true
}

type Handler struct {
	BaseHandler
}

func NewHandler(service Service, log logger.Logger) *Handler {
	if log == nil {
		log = logger.NopLogger()
	}
	return &Handler{
		BaseHandler: BaseHandler{
			Service: service,
			Logger:  log,
		},
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		rules := v1.Group("/rules")
		{
			rules.GET("", h.ListRules)
			rules.POST("", h.CreateRule)
			rules.GET("/:id", h.GetRule)
			rules.PUT("/:id", h.UpdateRule)
			rules.DELETE("/:id", h.DeleteRule)
			rules.GET("/:id/actions", h.ListRuleActions)
			rules.POST("/:id/actions", h.CreateAction)
		}

		ruleActions := v1.Group("/actions")
		{
			ruleActions.GET("/:id", h.GetAction)
			ruleActions.PUT("/:id", h.UpdateAction)
			ruleActions.DELETE("/:id", h.DeleteAction)
		}

		sequences := v1.Group("/sequences")
		{
			sequences.GET("", h.ListSequences)
			sequences.POST("", h.CreateSequence)
			sequences.GET("/:id", h.GetSequence)
			sequences.PUT("/:id", h.UpdateSequence)
			sequences.DELETE("/:id", h.DeleteSequence)
			sequences.GET("/:id/steps", h.ListSequenceSteps)
			sequences.POST("/:id/steps", h.CreateStep)
			sequences.POST("/:id/enrollments", h.Enroll)
		}

		steps := v1.Group("/steps")
		{
			steps.GET("/:id", h.GetStep)
			steps.PUT("/:id", h.UpdateStep)
			steps.DELETE("/:id", h.DeleteStep)
		}

		enrollments := v1.Group("/enrollments")
		{
			enrollments.GET("", h.ListEnrollments)
			enrollments.GET("/:id", h.GetEnrollment)
			enrollments.POST("/:id/pause", h.PauseEnrollment)
			enrollments.POST("/:id/resume", h.ResumeEnrollment)
			enrollments.POST("/:id/cancel", h.CancelEnrollment)
		}

		executions := v1.Group("/executions")
		{
			executions.GET("", h.ListExecutions)
			executions.GET("/:id", h.GetExecution)
		}

		v1.POST("/events", h.TriggerEvent)
		v1.GET("/audit/logs", h.GetAuditLogs)
	}
}

// ListRules godoc
// @Summary      List automation rules
// @Description  Get a page of automation rules ordered by priority
// @Tags         rules
// @Accept       json
// @Produce      json
// @Param        limit   query     int  false  "Maximum number of rules"
// @Param        offset  query     int  false  "Number of rules to skip"
// @Success      200     {array}   automation.Rule
// @Failure      500     {object}  errors.ErrorResponse
// @Router       /rules [get]
func (h *Handler) ListRules(c *gin.Context) {
	rules, err := h.Service.ListRules(c.Request.Context(), parseLimit(c.Query("limit")), parseOffset(c.Query("offset")))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, rules)
}

// CreateRule godoc
// @Summary      Create an automation rule
// @Description  Create a rule. The trigger type, filters and condition expression are validated before saving.
// @Tags         rules
// @Accept       json
// @Produce      json
// @Param        rule  body      CreateRuleRequest  true  "Rule data"
// @Success      201   {object}  automation.Rule
// @Failure      400   {object}  errors.ErrorResponse
// @Failure      500   {object}  errors.ErrorResponse
// @Router       /rules [post]
func (h *Handler) CreateRule(c *gin.Context) {
	var req CreateRuleRequest
	if !h.bindJSON(c, &req) {
		return
	}

	rule, err := h.Service.CreateRule(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

// GetRule godoc
// @Summary      Get an automation rule
// @Tags         rules
// @Produce      json
// @Param        id   path      string  true  "Rule ID"
// @Success      200  {object}  automation.Rule
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /rules/{id} [get]
func (h *Handler) GetRule(c *gin.Context) {
	rule, err := h.Service.GetRule(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// UpdateRule godoc
// @Summary      Update an automation rule
// @Description  Update the given fields of a rule. Counters and action ids are not writable.
// @Tags         rules
// @Accept       json
// @Produce      json
// @Param        id    path      string             true  "Rule ID"
// @Param        rule  body      UpdateRuleRequest  true  "Fields to update"
// @Success      200   {object}  automation.Rule
// @Failure      400   {object}  errors.ErrorResponse
// @Failure      404   {object}  errors.ErrorResponse
// @Router       /rules/{id} [put]
func (h *Handler) UpdateRule(c *gin.Context) {
	var req UpdateRuleRequest
	if !h.bindJSON(c, &req) {
		return
	}

	rule, err := h.Service.UpdateRule(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// DeleteRule godoc
// @Summary      Delete an automation rule
// @Description  Delete a rule together with its actions and executions
// @Tags         rules
// @Param        id   path  string  true  "Rule ID"
// @Success      204
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /rules/{id} [delete]
func (h *Handler) DeleteRule(c *gin.Context) {
	if err := h.Service.DeleteRule(c.Request.Context(), c.Param("id")); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListRuleActions godoc
// @Summary      List a rule's actions
// @Tags         actions
// @Produce      json
// @Param        id   path      string  true  "Rule ID"
// @Success      200  {array}   automation.Action
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /rules/{id}/actions [get]
func (h *Handler) ListRuleActions(c *gin.Context) {
	list, err := h.Service.ListRuleActions(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// CreateAction godoc
// @Summary      Add an action to a rule
// @Description  The action config is decoded and validated against the action type
// @Tags         actions
// @Accept       json
// @Produce      json
// @Param        id      path      string               true  "Rule ID"
// @Param        action  body      CreateActionRequest  true  "Action data"
// @Success      201     {object}  automation.Action
// @Failure      400     {object}  errors.ErrorResponse
// @Failure      404     {object}  errors.ErrorResponse
// @Failure      409     {object}  errors.ErrorResponse
// @Router       /rules/{id}/actions [post]
func (h *Handler) CreateAction(c *gin.Context) {
	var req CreateActionRequest
	if !h.bindJSON(c, &req) {
		return
	}

	action, err := h.Service.CreateAction(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, action)
}

// GetAction godoc
// @Summary      Get a rule action
// @Tags         actions
// @Produce      json
// @Param        id   path      string  true  "Action ID"
// @Success      200  {object}  automation.Action
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /actions/{id} [get]
func (h *Handler) GetAction(c *gin.Context) {
	action, err := h.Service.GetAction(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, action)
}

// UpdateAction godoc
// @Summary      Update a rule action
// @Tags         actions
// @Accept       json
// @Produce      json
// @Param        id      path      string               true  "Action ID"
// @Param        action  body      UpdateActionRequest  true  "Fields to update"
// @Success      200     {object}  automation.Action
// @Failure      400     {object}  errors.ErrorResponse
// @Failure      404     {object}  errors.ErrorResponse
// @Failure      409     {object}  errors.ErrorResponse
// @Router       /actions/{id} [put]
func (h *Handler) UpdateAction(c *gin.Context) {
	var req UpdateActionRequest
	if !h.bindJSON(c, &req) {
		return
	}

	action, err := h.Service.UpdateAction(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, action)
}

// DeleteAction godoc
// @Summary      Delete a rule action
// @Tags         actions
// @Param        id   path  string  true  "Action ID"
// @Success      204
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /actions/{id} [delete]
func (h *Handler) DeleteAction(c *gin.Context) {
	if err := h.Service.DeleteAction(c.Request.Context(), c.Param("id")); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListSequences godoc
// @Summary      List cadence sequences
// @Tags         sequences
// @Produce      json
// @Param        limit   query     int  false  "Maximum number of sequences"
// @Param        offset  query     int  false  "Number of sequences to skip"
// @Success      200     {array}   cadence.Sequence
// @Failure      500     {object}  errors.ErrorResponse
// @Router       /sequences [get]
func (h *Handler) ListSequences(c *gin.Context) {
	seqs, err := h.Service.ListSequences(c.Request.Context(), parseLimit(c.Query("limit")), parseOffset(c.Query("offset")))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, seqs)
}

// CreateSequence godoc
// @Summary      Create a cadence sequence
// @Description  A trigger_type in trigger_conditions makes the sequence auto-enroll on that trigger
// @Tags         sequences
// @Accept       json
// @Produce      json
// @Param        sequence  body      CreateSequenceRequest  true  "Sequence data"
// @Success      201       {object}  cadence.Sequence
// @Failure      400       {object}  errors.ErrorResponse
// @Router       /sequences [post]
func (h *Handler) CreateSequence(c *gin.Context) {
	var req CreateSequenceRequest
	if !h.bindJSON(c, &req) {
		return
	}

	seq, err := h.Service.CreateSequence(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, seq)
}

// GetSequence godoc
// @Summary      Get a cadence sequence
// @Tags         sequences
// @Produce      json
// @Param        id   path      string  true  "Sequence ID"
// @Success      200  {object}  cadence.Sequence
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /sequences/{id} [get]
func (h *Handler) GetSequence(c *gin.Context) {
	seq, err := h.Service.GetSequence(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, seq)
}

// UpdateSequence godoc
// @Summary      Update a cadence sequence
// @Tags         sequences
// @Accept       json
// @Produce      json
// @Param        id        path      string                 true  "Sequence ID"
// @Param        sequence  body      UpdateSequenceRequest  true  "Fields to update"
// @Success      200       {object}  cadence.Sequence
// @Failure      400       {object}  errors.ErrorResponse
// @Failure      404       {object}  errors.ErrorResponse
// @Router       /sequences/{id} [put]
func (h *Handler) UpdateSequence(c *gin.Context) {
	var req UpdateSequenceRequest
	if !h.bindJSON(c, &req) {
		return
	}

	seq, err := h.Service.UpdateSequence(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, seq)
}

// DeleteSequence godoc
// @Summary      Delete a cadence sequence
// @Description  Delete a sequence together with its steps and enrollments
// @Tags         sequences
// @Param        id   path  string  true  "Sequence ID"
// @Success      204
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /sequences/{id} [delete]
func (h *Handler) DeleteSequence(c *gin.Context) {
	if err := h.Service.DeleteSequence(c.Request.Context(), c.Param("id")); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListSequenceSteps godoc
// @Summary      List a sequence's steps
// @Tags         steps
// @Produce      json
// @Param        id   path      string  true  "Sequence ID"
// @Success      200  {array}   cadence.Step
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /sequences/{id}/steps [get]
func (h *Handler) ListSequenceSteps(c *gin.Context) {
	steps, err := h.Service.ListSequenceSteps(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, steps)
}

// CreateStep godoc
// @Summary      Add a step to a sequence
// @Tags         steps
// @Accept       json
// @Produce      json
// @Param        id    path      string             true  "Sequence ID"
// @Param        step  body      CreateStepRequest  true  "Step data"
// @Success      201   {object}  cadence.Step
// @Failure      400   {object}  errors.ErrorResponse
// @Failure      404   {object}  errors.ErrorResponse
// @Failure      409   {object}  errors.ErrorResponse
// @Router       /sequences/{id}/steps [post]
func (h *Handler) CreateStep(c *gin.Context) {
	var req CreateStepRequest
	if !h.bindJSON(c, &req) {
		return
	}

	step, err := h.Service.CreateStep(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, step)
}

// GetStep godoc
// @Summary      Get a sequence step
// @Tags         steps
// @Produce      json
// @Param        id   path      string  true  "Step ID"
// @Success      200  {object}  cadence.Step
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /steps/{id} [get]
func (h *Handler) GetStep(c *gin.Context) {
	step, err := h.Service.GetStep(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, step)
}

// UpdateStep godoc
// @Summary      Update a sequence step
// @Tags         steps
// @Accept       json
// @Produce      json
// @Param        id    path      string             true  "Step ID"
// @Param        step  body      UpdateStepRequest  true  "Fields to update"
// @Success      200   {object}  cadence.Step
// @Failure      400   {object}  errors.ErrorResponse
// @Failure      404   {object}  errors.ErrorResponse
// @Router       /steps/{id} [put]
func (h *Handler) UpdateStep(c *gin.Context) {
	var req UpdateStepRequest
	if !h.bindJSON(c, &req) {
		return
	}

	step, err := h.Service.UpdateStep(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, step)
}

// DeleteStep godoc
// @Summary      Delete a sequence step
// @Tags         steps
// @Param        id   path  string  true  "Step ID"
// @Success      204
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /steps/{id} [delete]
func (h *Handler) DeleteStep(c *gin.Context) {
	if err := h.Service.DeleteStep(c.Request.Context(), c.Param("id")); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Enroll godoc
// @Summary      Enroll a target into a sequence
// @Description  Fails with 409 when the target already has an active or paused enrollment in the sequence
// @Tags         enrollments
// @Accept       json
// @Produce      json
// @Param        id          path      string         true  "Sequence ID"
// @Param        enrollment  body      EnrollRequest  true  "Target to enroll"
// @Success      201         {object}  cadence.Enrollment
// @Failure      400         {object}  errors.ErrorResponse
// @Failure      404         {object}  errors.ErrorResponse
// @Failure      409         {object}  errors.ErrorResponse
// @Router       /sequences/{id}/enrollments [post]
func (h *Handler) Enroll(c *gin.Context) {
	var req EnrollRequest
	if !h.bindJSON(c, &req) {
		return
	}

	enrollment, err := h.Service.Enroll(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, enrollment)
}

// ListEnrollments godoc
// @Summary      List enrollments
// @Tags         enrollments
// @Produce      json
// @Param        sequence_id  query     string  false  "Sequence ID"
// @Param        target_id    query     string  false  "Target ID"
// @Param        status       query     string  false  "Enrollment status"
// @Param        limit        query     int     false  "Maximum number of enrollments"
// @Param        offset       query     int     false  "Number of enrollments to skip"
// @Success      200          {array}   cadence.Enrollment
// @Failure      400          {object}  errors.ErrorResponse
// @Router       /enrollments [get]
func (h *Handler) ListEnrollments(c *gin.Context) {
	filter := cadence.EnrollmentFilter{
		SequenceID: c.Query("sequence_id"),
		TargetID:   c.Query("target_id"),
		Status:     cadence.EnrollmentStatus(c.Query("status")),
		Limit:      parseLimit(c.Query("limit")),
		Offset:     parseOffset(c.Query("offset")),
	}

	list, err := h.Service.ListEnrollments(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// GetEnrollment godoc
// @Summary      Get an enrollment
// @Tags         enrollments
// @Produce      json
// @Param        id   path      string  true  "Enrollment ID"
// @Success      200  {object}  cadence.Enrollment
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /enrollments/{id} [get]
func (h *Handler) GetEnrollment(c *gin.Context) {
	en, err := h.Service.GetEnrollment(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, en)
}

// PauseEnrollment godoc
// @Summary      Pause an active enrollment
// @Description  Fails with 409 while a worker is running the enrollment's current step
// @Tags         enrollments
// @Produce      json
// @Param        id   path      string  true  "Enrollment ID"
// @Success      200  {object}  cadence.Enrollment
// @Failure      400  {object}  errors.ErrorResponse
// @Failure      404  {object}  errors.ErrorResponse
// @Failure      409  {object}  errors.ErrorResponse
// @Router       /enrollments/{id}/pause [post]
func (h *Handler) PauseEnrollment(c *gin.Context) {
	en, err := h.Service.PauseEnrollment(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, en)
}

// ResumeEnrollment godoc
// @Summary      Resume a paused enrollment
// @Description  The current step becomes due after its own delay, counted from now
// @Tags         enrollments
// @Produce      json
// @Param        id   path      string  true  "Enrollment ID"
// @Success      200  {object}  cadence.Enrollment
// @Failure      400  {object}  errors.ErrorResponse
// @Failure      404  {object}  errors.ErrorResponse
// @Failure      409  {object}  errors.ErrorResponse
// @Router       /enrollments/{id}/resume [post]
func (h *Handler) ResumeEnrollment(c *gin.Context) {
	en, err := h.Service.ResumeEnrollment(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, en)
}

// CancelEnrollment godoc
// @Summary      Cancel an enrollment
// @Description  Fails with 409 while a worker is running the enrollment's current step
// @Tags         enrollments
// @Produce      json
// @Param        id   path      string  true  "Enrollment ID"
// @Success      200  {object}  cadence.Enrollment
// @Failure      400  {object}  errors.ErrorResponse
// @Failure      404  {object}  errors.ErrorResponse
// @Failure      409  {object}  errors.ErrorResponse
// @Router       /enrollments/{id}/cancel [post]
func (h *Handler) CancelEnrollment(c *gin.Context) {
	en, err := h.Service.CancelEnrollment(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, en)
}

// ListExecutions godoc
// @Summary      List rule executions
// @Tags         executions
// @Produce      json
// @Param        rule_id  query     string  false  "Rule ID"
// @Param        status   query     string  false  "Execution status"
// @Param        limit    query     int     false  "Maximum number of executions"
// @Param        offset   query     int     false  "Number of executions to skip"
// @Success      200      {array}   automation.Execution
// @Failure      400      {object}  errors.ErrorResponse
// @Router       /executions [get]
func (h *Handler) ListExecutions(c *gin.Context) {
	filter := automation.ExecutionFilter{
		RuleID: c.Query("rule_id"),
		Status: automation.ExecutionStatus(c.Query("status")),
		Limit:  parseLimit(c.Query("limit")),
		Offset: parseOffset(c.Query("offset")),
	}

	list, err := h.Service.ListExecutions(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// GetExecution godoc
// @Summary      Get a rule execution with its log
// @Tags         executions
// @Produce      json
// @Param        id   path      string  true  "Execution ID"
// @Success      200  {object}  automation.Execution
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /executions/{id} [get]
func (h *Handler) GetExecution(c *gin.Context) {
	exec, err := h.Service.GetExecution(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, exec)
}

// TriggerEvent godoc
// @Summary      Dispatch a CRM event
// @Description  Runs every matching rule. Immediate executions finish before the response; delayed ones are returned pending.
// @Tags         events
// @Accept       json
// @Produce      json
// @Param        event  body      TriggerEventRequest  true  "CRM event"
// @Success      202    {object}  TriggerEventResponse
// @Failure      400    {object}  errors.ErrorResponse
// @Router       /events [post]
func (h *Handler) TriggerEvent(c *gin.Context) {
	var req TriggerEventRequest
	if !h.bindJSON(c, &req) {
		return
	}

	ids, err := h.Service.TriggerEvent(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, TriggerEventResponse{ExecutionIDs: ids})
}

// GetAuditLogs godoc
// @Summary      Get configuration audit logs
// @Description  Get configuration changes, newest first, optionally narrowed to one entity
// @Tags         audit
// @Produce      json
// @Param        entity_type  query     string  false  "rule, action, sequence or step"
// @Param        entity_id    query     string  false  "Entity ID"
// @Param        limit        query     int     false  "Maximum number of logs"
// @Success      200          {array}   AuditLog
// @Failure      500          {object}  errors.ErrorResponse
// @Router       /audit/logs [get]
func (h *Handler) GetAuditLogs(c *gin.Context) {
	filter := AuditFilter{
		EntityType: c.Query("entity_type"),
		EntityID:   c.Query("entity_id"),
		Limit:      parseLimit(c.Query("limit")),
	}

	logs, err := h.Service.GetAuditLogs(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}

func parseLimit(limitStr string) int {
	if limitStr == "" {
		return constants.DefaultLimit
	}
	parsed, err := strconv.Atoi(limitStr)
	if err != nil || parsed <= 0 || parsed > constants.MaxLimit {
		return constants.DefaultLimit
	}
	return parsed
}

func parseOffset(offsetStr string) int {
	parsed, err := strconv.Atoi(offsetStr)
	if err != nil || parsed < 0 {
		return 0
	}
	return parsed
}
