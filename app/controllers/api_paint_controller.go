package controllers

import (
	"errors"
	"io"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/paintgate/paintgate/app/models"
	"github.com/paintgate/paintgate/app/repository"
	"github.com/paintgate/paintgate/internal/pkg/accountcontext"
	"github.com/paintgate/paintgate/internal/pkg/engine"
	metrics "github.com/paintgate/paintgate/internal/pkg/metrics/counter"
)

const paintEndpoint = "/api/v1/paint"

var (
	paintEngine   *engine.Client
	paintValidate = validator.New()
)

// InitializePaintController wires the painting engine client.
func InitializePaintController(client *engine.Client) {
	paintEngine = client
}

type paintParams struct {
	Prompt   string  `validate:"max=1000"`
	Strength float64 `validate:"omitempty,gte=0,lte=1"`
	Steps    int     `validate:"omitempty,gte=0,lte=500"`
	Guidance float64 `validate:"omitempty,gte=0,lte=50"`
}

// HandlePaint runs one metered painting call. The gate middleware has already
// debited the token; whatever happens downstream, that debit stands. Usage
// recording and key bookkeeping run asynchronously after the response is
// decided so the slow engine call is the only latency the caller sees.
func HandlePaint(c *fiber.Ctx) error {
	acct := accountcontext.Get(c)
	if !acct.Authenticated {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}
	requestID, _ := c.Locals(accountcontext.KeyRequestID).(string)

	fileHeader, err := c.FormFile("image")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "image file is required"})
	}
	file, err := fileHeader.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "image file could not be read"})
	}
	defer file.Close()
	imageBytes, err := io.ReadAll(file)
	if err != nil || len(imageBytes) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "image file could not be read"})
	}

	params := paintParams{
		Prompt:   c.FormValue("prompt"),
		Strength: parseFloatValue(c.FormValue("strength")),
		Steps:    parseIntValue(c.FormValue("steps")),
		Guidance: parseFloatValue(c.FormValue("guidance")),
	}
	if err := paintValidate.Struct(params); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "parameters out of range"})
	}

	result, err := paintEngine.Process(c.Context(), &engine.Request{
		Image:    imageBytes,
		Filename: fileHeader.Filename,
		Prompt:   params.Prompt,
		Strength: params.Strength,
		Steps:    params.Steps,
		Guidance: params.Guidance,
	})
	if err != nil {
		// The token stays debited: compensating credits are an explicit,
		// separate ledger operation, never an implicit rollback.
		go recordUsage(acct, requestID, "", 0, false)

		var engineErr *engine.Error
		if errors.As(err, &engineErr) {
			fiberlog.Errorf("[Paint] engine failure for account %d: %v", acct.AccountID, err)
		} else {
			fiberlog.Errorf("[Paint] request failed for account %d: %v", acct.AccountID, err)
		}
		c.Set("X-Processing-Status", "failed")
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "processing_failed", "message": "Image processing failed"})
	}

	go recordUsage(acct, requestID, result.Model, result.Duration, true)

	c.Set("X-Processing-Status", "success")
	c.Set("X-Model", result.Model)
	c.Set("X-Processing-Time-Ms", strconv.FormatInt(result.Duration.Milliseconds(), 10))
	c.Set(fiber.HeaderContentType, "image/png")
	return c.Send(result.Image)
}

// recordUsage appends the audit record and refreshes key metadata. Failures
// here are logged, never surfaced, and never roll back the debit. A var so
// handler tests can swap in a capture.
var recordUsage = func(acct accountcontext.AccountContext, requestID, model string, duration time.Duration, succeeded bool) {
	repos := repository.GetGlobalFactory()

	rec := &models.UsageRecord{
		AccountID:     acct.AccountID,
		APIKeyID:      acct.APIKeyID,
		RequestID:     requestID,
		Endpoint:      paintEndpoint,
		Model:         model,
		TokensCharged: 1,
		DurationMs:    duration.Milliseconds(),
		Succeeded:     succeeded,
	}
	if err := repos.GetUsageRepository().Record(rec); err != nil {
		fiberlog.Errorf("[Paint] usage record failed for account %d: %v", acct.AccountID, err)
	}

	if err := metrics.AddPaintRequest(acct.AccountID); err != nil {
		fiberlog.Errorf("[Paint] usage counter failed for account %d: %v", acct.AccountID, err)
	}

	if err := repos.GetAPIKeyRepository().TouchLastUsed(acct.APIKeyID); err != nil {
		fiberlog.Errorf("[Paint] key usage timestamp update failed for key %d: %v", acct.APIKeyID, err)
	}
}

func parseFloatValue(raw string) float64 {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseIntValue(raw string) int {
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return v
}
