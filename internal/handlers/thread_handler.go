package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/attachments"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/dto"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/identity"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/models"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/realtime"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const defaultKeepAlive = 25 * time.Second

// Subscriber opens live subscriptions on report threads.
type Subscriber interface {
	Subscribe(ctx context.Context, reportID uuid.UUID) (*realtime.Subscription, error)
}

type ThreadHandler struct {
	threadService *services.ThreadService
	subscriber    Subscriber
	uploader      attachments.Uploader
	validate      *dto.Validator
	keepAlive     time.Duration
}

// NewThreadHandler wires the thread endpoints. uploader may be nil, in which
// case multipart uploads are refused and only pre-uploaded references work.
func NewThreadHandler(
	threadService *services.ThreadService,
	subscriber Subscriber,
	uploader attachments.Uploader,
	validate *dto.Validator,
	keepAlive time.Duration,
) *ThreadHandler {
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	return &ThreadHandler{
		threadService: threadService,
		subscriber:    subscriber,
		uploader:      uploader,
		validate:      validate,
		keepAlive:     keepAlive,
	}
}

func (h *ThreadHandler) List(c *fiber.Ctx) error {
	reportID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "Invalid report ID")
	}

	msgs, err := h.threadService.GetThread(c.UserContext(), reportID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.NewThreadResponse(msgs))
}

// Post appends a message. JSON bodies may carry a pre-uploaded attachment
// reference; multipart bodies may carry the file itself, which is uploaded
// before anything is written to the thread.
func (h *ThreadHandler) Post(c *fiber.Ctx) error {
	caller, ok := identity.Get(c)
	if !ok {
		return respondError(c, identity.ErrMissingIdentity)
	}
	reportID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "Invalid report ID")
	}

	var in services.AppendInput
	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		in, err = h.parseMultipart(c, reportID)
	} else {
		in, err = h.parseJSON(c)
	}
	if err != nil {
		var re *requestError
		if errors.As(err, &re) {
			return c.Status(re.status).JSON(dto.ErrorResponse{Error: true, Message: re.message})
		}
		return respondError(c, err)
	}

	msg, err := h.threadService.AppendMessage(c.UserContext(), caller, reportID, in)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.NewMessageResponse(msg))
}

// requestError is a client error found while reading the request.
type requestError struct {
	status  int
	message string
}

func (e *requestError) Error() string { return e.message }

func invalid(message string) error {
	return &requestError{status: fiber.StatusBadRequest, message: message}
}

func (h *ThreadHandler) parseJSON(c *fiber.Ctx) (services.AppendInput, error) {
	var req dto.PostMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return services.AppendInput{}, invalid("Invalid request body")
	}
	if err := h.validate.Validate(req); err != nil {
		return services.AppendInput{}, invalid(err.Error())
	}

	in := services.AppendInput{Body: req.Body}
	if req.Attachment != nil {
		in.Attachment = &models.Attachment{URL: req.Attachment.URL, IsImage: req.Attachment.IsImage}
	}
	return in, nil
}

func (h *ThreadHandler) parseMultipart(c *fiber.Ctx, reportID uuid.UUID) (services.AppendInput, error) {
	in := services.AppendInput{Body: c.FormValue("body")}
	if utf8.RuneCountInString(in.Body) > 5000 {
		return in, invalid("body must be at most 5000 characters")
	}

	header, err := c.FormFile("file")
	if err != nil {
		// No file part: a plain text message sent as a form.
		return in, nil
	}
	if h.uploader == nil {
		return in, &requestError{status: fiber.StatusServiceUnavailable, message: "Attachments are not enabled"}
	}
	// A missing or resolved report would leave the uploaded object orphaned.
	if err := h.threadService.CheckAcceptsMessages(c.UserContext(), reportID); err != nil {
		return in, err
	}

	file, err := header.Open()
	if err != nil {
		return in, invalid("Invalid file upload")
	}
	defer file.Close()

	attachment, err := h.uploader.Upload(c.UserContext(), reportID, attachments.File{
		Name:        header.Filename,
		ContentType: header.Header.Get(fiber.HeaderContentType),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		if errors.Is(err, attachments.ErrEmptyFile) {
			return in, invalid(err.Error())
		}
		return in, fmt.Errorf("%w: %v", services.ErrAttachmentUploadFailed, err)
	}
	in.Attachment = attachment
	return in, nil
}

func (h *ThreadHandler) Start(c *fiber.Ctx) error {
	return h.transition(c, h.threadService.StartReport)
}

func (h *ThreadHandler) Resolve(c *fiber.Ctx) error {
	return h.transition(c, h.threadService.ResolveReport)
}

func (h *ThreadHandler) transition(c *fiber.Ctx, fire func(context.Context, identity.Caller, uuid.UUID) (*models.Report, error)) error {
	caller, ok := identity.Get(c)
	if !ok {
		return respondError(c, identity.ErrMissingIdentity)
	}
	reportID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "Invalid report ID")
	}

	report, err := fire(c.UserContext(), caller, reportID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.NewReportResponse(report))
}

// Stream serves the thread as server-sent events: the current messages first,
// then every new one as it is appended. A "resync" event means the client fell
// behind or the live channel was lost, and it must refetch the thread and
// reconnect.
func (h *ThreadHandler) Stream(c *fiber.Ctx) error {
	reportID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "Invalid report ID")
	}

	// Subscribe before reading the snapshot so nothing committed in between is lost.
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := h.subscriber.Subscribe(ctx, reportID)
	if err != nil {
		cancel()
		return respondError(c, err)
	}
	snapshot, err := h.threadService.GetThread(c.UserContext(), reportID)
	if err != nil {
		sub.Close()
		cancel()
		return respondError(c, err)
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	keepAlive := h.keepAlive
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()
		defer sub.Close()

		var snapshotSeq int64
		for i := range snapshot {
			if err := writeEvent(w, "message", &snapshot[i]); err != nil {
				return
			}
			snapshotSeq = snapshot[i].Seq
		}
		if err := w.Flush(); err != nil {
			return
		}

		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()
		for {
			select {
			case msg, ok := <-sub.Messages():
				if !ok {
					if reason := resyncReason(sub.Err()); reason != "" {
						_ = writeData(w, "resync", "", dto.StreamResync{Reason: reason})
						_ = w.Flush()
					}
					return
				}
				// Seqs at or below the snapshot's were committed before it was read.
				if msg.Seq <= snapshotSeq {
					continue
				}
				if err := writeEvent(w, "message", &msg); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			case <-ticker.C:
				if _, err := w.WriteString(": keepalive\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	})
	return nil
}

func resyncReason(err error) string {
	switch {
	case errors.Is(err, realtime.ErrSubscriberLagged):
		return "lagged"
	case errors.Is(err, realtime.ErrTopicUnavailable):
		return "unavailable"
	}
	return ""
}

func writeEvent(w *bufio.Writer, event string, msg *models.Message) error {
	return writeData(w, event, fmt.Sprint(msg.Seq), dto.NewMessageResponse(msg))
}

func writeData(w *bufio.Writer, event, id string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if id != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", id); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
