package http

import (
	"context"
	"strconv"
	"time"

	apperrors "students-registry/internal/shared/errors"
	"students-registry/internal/shared/logger"
	"students-registry/internal/shared/utils"
	"students-registry/internal/students/adapter/security"
	"students-registry/internal/students/domain/model"
	"students-registry/internal/students/usecase"

	"github.com/gofiber/fiber/v2"
)

// Query parameters of GET /students that are not attribute filters.
const (
	queryFilter = "filter"
	queryLimit  = "limit"
)

// StudentHTTPHandler serves the root page and the /students resource.
type StudentHTTPHandler struct {
	usecase    usecase.StudentUsecaseInterface
	flash      *security.FlashSigner
	cookieName string
	testing    func() bool
	log        logger.Logger
}

// NewStudentHTTPHandler creates the handler. flash may be nil to disable flash cookies.
func NewStudentHTTPHandler(
	uc usecase.StudentUsecaseInterface,
	flash *security.FlashSigner,
	cookieName string,
	testing func() bool,
	log logger.Logger,
) *StudentHTTPHandler {
	if testing == nil {
		testing = func() bool { return false }
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &StudentHTTPHandler{
		usecase:    uc,
		flash:      flash,
		cookieName: cookieName,
		testing:    testing,
		log:        log.WithComponent("student_http"),
	}
}

// RegisterRoutes mounts the root page and the student routes.
func (h *StudentHTTPHandler) RegisterRoutes(router fiber.Router) {
	router.Get("/", h.Index)

	students := router.Group("/students")
	students.Get("/", h.ListStudents)
	students.Post("/", h.CreateStudent)
	students.Get("/:id", h.GetStudent)
	students.Put("/:id", h.UpdateStudent)
	students.Patch("/:id", h.UpdateStudent)
	students.Delete("/:id", h.DeleteStudent)
}

// Index always answers 200 and never touches the store. A pending flash message is
// returned once and then cleared.
func (h *StudentHTTPHandler) Index(c *fiber.Ctx) error {
	body := fiber.Map{
		"message": "Students registry is running",
		"testing": h.testing(),
	}

	if token := c.Cookies(h.cookieName); token != "" && h.flash != nil {
		if claims, err := h.flash.Verify(token); err == nil {
			body["flash"] = fiber.Map{"message": claims.Message, "category": claims.Category}
		} else {
			h.log.WithContext(c.UserContext()).Debugf("Discarding flash cookie: %v", err)
		}
		c.ClearCookie(h.cookieName)
	}

	return c.Status(fiber.StatusOK).JSON(body)
}

// ListStudents handles GET /students?filter=<CEL>&limit=N&<field>=<value>.
func (h *StudentHTTPHandler) ListStudents(c *fiber.Ctx) error {
	req := usecase.ListStudentsRequest{}

	for key, value := range c.Queries() {
		switch key {
		case queryFilter:
			req.Expression = value
		case queryLimit:
			limit, err := strconv.Atoi(value)
			if err != nil {
				return apperrors.NewValidationErrors().
					Add(queryLimit, "limit must be an integer", value).
					ToAppError()
			}
			req.Limit = limit
		default:
			if req.Filter == nil {
				req.Filter = model.Filter{}
			}
			req.Filter[key] = model.ParseFilterValue(key, value)
		}
	}

	students, err := h.usecase.ListStudents(c.UserContext(), req)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"students": students,
		"count":    len(students),
	})
}

// CreateStudent handles POST /students.
func (h *StudentHTTPHandler) CreateStudent(c *fiber.Ctx) error {
	var student model.Student
	if err := c.BodyParser(&student); err != nil {
		return apperrors.NewValidationError("Invalid request body").WithCause(err)
	}

	created, err := h.usecase.CreateStudent(c.UserContext(), &student)
	if err != nil {
		return err
	}

	h.setFlash(c, "Student "+created.Name+" created", security.FlashSuccess)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":      created.ID,
		"student": created,
	})
}

// GetStudent handles GET /students/:id.
func (h *StudentHTTPHandler) GetStudent(c *fiber.Ctx) error {
	id := c.Params("id")
	student, err := h.usecase.GetStudent(studentContext(c, id), id)
	if err != nil {
		return err
	}
	return c.JSON(student)
}

// UpdateStudent handles PUT and PATCH /students/:id. Both apply a partial update.
func (h *StudentHTTPHandler) UpdateStudent(c *fiber.Ctx) error {
	var patch model.Patch
	if err := c.BodyParser(&patch); err != nil {
		return apperrors.NewValidationError("Invalid request body").WithCause(err)
	}

	id := c.Params("id")
	modified, err := h.usecase.UpdateStudent(studentContext(c, id), id, patch)
	if err != nil {
		return err
	}
	if modified == 0 {
		h.setFlash(c, "No student with id "+id, security.FlashError)
		return apperrors.NewNotFoundError("student").WithDetail("id", id)
	}

	h.setFlash(c, "Student updated", security.FlashSuccess)
	return c.JSON(fiber.Map{"modified": modified})
}

// DeleteStudent handles DELETE /students/:id.
func (h *StudentHTTPHandler) DeleteStudent(c *fiber.Ctx) error {
	id := c.Params("id")
	deleted, err := h.usecase.DeleteStudent(studentContext(c, id), id)
	if err != nil {
		return err
	}
	if deleted == 0 {
		h.setFlash(c, "No student with id "+id, security.FlashError)
		return apperrors.NewNotFoundError("student").WithDetail("id", id)
	}

	h.setFlash(c, "Student deleted", security.FlashSuccess)
	return c.JSON(fiber.Map{"deleted": deleted})
}

// studentContext tags the request context with the addressed id for log enrichment.
func studentContext(c *fiber.Ctx, id string) context.Context {
	return utils.WithStudentID(c.UserContext(), id)
}

func (h *StudentHTTPHandler) setFlash(c *fiber.Ctx, message, category string) {
	if h.flash == nil {
		return
	}
	token, err := h.flash.Sign(message, category)
	if err != nil {
		h.log.WithContext(c.UserContext()).Warnf("Failed to sign flash message: %v", err)
		return
	}
	c.Cookie(&fiber.Cookie{
		Name:     h.cookieName,
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(h.flash.TTL()),
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}
