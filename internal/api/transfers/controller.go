package transfers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ThanhTuGenki/transfer-file-to-drive/internal/transfer"
)

type (
	// SubmitFolderRequest is the body of the folder submission endpoint.
	// The name is optional; an omitted name is filled in by the scan.
	SubmitFolderRequest struct {
		URL  string `json:"url" validate:"required,url"`
		Name string `json:"name" validate:"omitempty,max=255"`
	}

	Service interface {
		SubmitFolder(ctx context.Context, url string, name string) (*transfer.Folder, error)
		AllFolders(ctx context.Context) ([]*transfer.Folder, error)
		FilesForFolder(ctx context.Context, folderID uuid.UUID) ([]*transfer.File, error)
		EnqueuePending(ctx context.Context) (int, error)
		RetryFailed(ctx context.Context) ([]*transfer.File, error)
		RetryFile(ctx context.Context, id uuid.UUID) (*transfer.File, error)
	}

	// Controller defines the transfer endpoints and translates between
	// HTTP shapes and the transfer service.
	Controller struct {
		validate *validator.Validate
		service  Service
	}
)

func New(validate *validator.Validate, service Service) *Controller {
	return &Controller{validate: validate, service: service}
}

// SetRoutes accepts the Echo group for the transfer endpoints and sets
// the routes on it.
func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.POST("/folders/", controller.submitFolder)
	eg.GET("/folders/", controller.listFolders)
	eg.GET("/folders/:id/files/", controller.listFiles)
	eg.POST("/process-pending/", controller.processPending)
	eg.POST("/retries/", controller.retryFailed)
	eg.POST("/files/:id/retry/", controller.retryFile)
}

// submitFolder accepts a folder URL, persists it and enqueues its scan.
func (controller *Controller) submitFolder(ec echo.Context) error {
	var request SubmitFolderRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "JSON body illegal: "+err.Error())
	}
	if err := controller.validate.Struct(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	folder, err := controller.service.SubmitFolder(ec.Request().Context(), request.URL, request.Name)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return ec.JSON(http.StatusCreated, NewFolderDto(folder))
}

func (controller *Controller) listFolders(ec echo.Context) error {
	folders, err := controller.service.AllFolders(ec.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	dtos := make([]*FolderDto, len(folders))
	for k, v := range folders {
		dtos[k] = NewFolderDto(v)
	}

	return ec.JSON(http.StatusOK, dtos)
}

// listFiles returns the files discovered under the folder named by the
// 'id' path param.
func (controller *Controller) listFiles(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Folder ID is not a valid UUID")
	}

	files, err := controller.service.FilesForFolder(ec.Request().Context(), id)
	if err != nil {
		if errors.Is(err, transfer.ErrFolderNotFound) {
			return echo.NewHTTPError(http.StatusNotFound)
		}

		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	dtos := make([]*FileDto, len(files))
	for k, v := range files {
		dtos[k] = NewFileDto(v)
	}

	return ec.JSON(http.StatusOK, dtos)
}

func (controller *Controller) processPending(ec echo.Context) error {
	queued, err := controller.service.EnqueuePending(ec.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return ec.JSON(http.StatusOK, QueuedDto{Queued: queued})
}

// retryFailed re-enqueues every failed file still inside its retry
// budget and returns a per-file summary of what was retried.
func (controller *Controller) retryFailed(ec echo.Context) error {
	files, err := controller.service.RetryFailed(ec.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	summaries := make([]*FileSummaryDto, len(files))
	for k, v := range files {
		summaries[k] = NewFileSummaryDto(v)
	}

	return ec.JSON(http.StatusOK, RetryBatchDto{Count: len(summaries), Files: summaries})
}

// retryFile resets a single failed file back to PENDING and enqueues
// it for another attempt.
func (controller *Controller) retryFile(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "File ID is not a valid UUID")
	}

	if _, err := controller.service.RetryFile(ec.Request().Context(), id); err != nil {
		if errors.Is(err, transfer.ErrFileNotFound) {
			return echo.NewHTTPError(http.StatusNotFound)
		}

		// Not failed, or retry budget exhausted.
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}

	return ec.JSON(http.StatusOK, RequeuedDto{Requeued: true})
}
