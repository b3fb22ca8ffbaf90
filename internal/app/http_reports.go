package app

import (
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
)

// multipartMemory is how much of a multipart body is held in memory;
// the rest spills to temporary files.
const multipartMemory = 8 << 20

func (s *HTTPServer) handleReports(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			skip, err := intParam(r, "skip", 0)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			limit, err := intParam(r, "limit", defaultPageSize)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			payload, err := s.service.ListReports(r.Context(), session, Pagination{Skip: skip, Limit: limit}, r.URL.Query().Get("search"))
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodPost:
			input, uploads, cleanup, err := s.reportRequest(w, r)
			defer cleanup()
			if err != nil {
				s.fail(w, r, err)
				return
			}
			payload, err := s.service.CreateReport(r.Context(), session, input, uploads)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) == 3 && parts[2] == "upload-inline" {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		uploads, cleanup, err := s.multipartUploads(w, r)
		defer cleanup()
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if len(uploads) != 1 {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Exactly one file is required", nil)
			return
		}
		payload, err := s.service.UploadInline(r.Context(), uploads[0])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
		return
	}

	reportID, err := parseID(parts[2])
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.GetReport(r.Context(), session, reportID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodPut:
			input, uploads, cleanup, err := s.reportRequest(w, r)
			defer cleanup()
			if err != nil {
				s.fail(w, r, err)
				return
			}
			payload, err := s.service.UpdateReport(r.Context(), session, reportID, input, uploads)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodDelete:
			if err := s.service.DeleteReport(r.Context(), session, reportID); err != nil {
				s.fail(w, r, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	switch parts[3] {
	case "attachments":
		s.handleAttachments(w, r, session, reportID, parts)
		return
	case "comments":
		s.handleComments(w, r, session, reportID, parts)
		return
	case "export":
		if len(parts) == 4 && r.Method == http.MethodGet {
			includeComments := false
			if raw := r.URL.Query().Get("comments"); raw != "" {
				parsed, err := strconv.ParseBool(raw)
				if err != nil {
					writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "comments must be true or false", nil)
					return
				}
				includeComments = parsed
			}
			result, err := s.service.ExportReport(r.Context(), session, reportID, r.URL.Query().Get("format"), includeComments)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			w.Header().Set("Content-Type", result.MimeType)
			w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": result.Filename}))
			w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(result.Data)
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleAttachments(w http.ResponseWriter, r *http.Request, session Session, reportID int64, parts []string) {
	if len(parts) == 4 {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		uploads, cleanup, err := s.multipartUploads(w, r)
		defer cleanup()
		if err != nil {
			s.fail(w, r, err)
			return
		}
		payload, err := s.service.AddAttachments(r.Context(), session, reportID, uploads)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
		return
	}

	if len(parts) != 5 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	attachmentID, err := parseID(parts[4])
	if err != nil {
		s.fail(w, r, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		attachment, rc, err := s.service.OpenAttachment(r.Context(), session, reportID, attachmentID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		defer rc.Close()
		contentType := attachment.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": attachment.Filename}))
		if attachment.SizeBytes > 0 {
			w.Header().Set("Content-Length", strconv.FormatInt(attachment.SizeBytes, 10))
		}
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, rc); err != nil {
			s.service.log(r.Context()).Warn("stream attachment failed", "attachment_id", attachmentID, "error", err)
		}
	case http.MethodDelete:
		if err := s.service.DeleteAttachment(r.Context(), session, reportID, attachmentID); err != nil {
			s.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleComments(w http.ResponseWriter, r *http.Request, session Session, reportID int64, parts []string) {
	if len(parts) == 4 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.ListComments(r.Context(), session, reportID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodPost:
			var body CommentInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateComment(r.Context(), session, reportID, body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) != 5 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	commentID, err := parseID(parts[4])
	if err != nil {
		s.fail(w, r, err)
		return
	}

	switch r.Method {
	case http.MethodPut:
		var body CommentInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.UpdateComment(r.Context(), session, reportID, commentID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	case http.MethodDelete:
		if err := s.service.DeleteComment(r.Context(), session, reportID, commentID); err != nil {
			s.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

// reportRequest reads a report body sent as multipart or JSON. For
// multipart requests only the fields present in the form are set.
func (s *HTTPServer) reportRequest(w http.ResponseWriter, r *http.Request) (ReportInput, []Upload, func(), error) {
	if !isMultipart(r) {
		var input ReportInput
		if err := decodeBody(r, &input); err != nil {
			return ReportInput{}, nil, func() {}, domainError(http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		}
		return input, nil, func() {}, nil
	}
	form, cleanup, err := s.parseMultipart(w, r)
	if err != nil {
		return ReportInput{}, nil, cleanup, err
	}
	var input ReportInput
	if values, ok := form.Value["title"]; ok && len(values) > 0 {
		input.Title = &values[0]
	}
	if values, ok := form.Value["content"]; ok && len(values) > 0 {
		input.Content = &values[0]
	}
	return input, formUploads(form), cleanup, nil
}

func (s *HTTPServer) multipartUploads(w http.ResponseWriter, r *http.Request) ([]Upload, func(), error) {
	if !isMultipart(r) {
		return nil, func() {}, validationError("Expected multipart/form-data", nil)
	}
	form, cleanup, err := s.parseMultipart(w, r)
	if err != nil {
		return nil, cleanup, err
	}
	return formUploads(form), cleanup, nil
}

func (s *HTTPServer) parseMultipart(w http.ResponseWriter, r *http.Request) (*multipart.Form, func(), error) {
	if limit := s.service.cfg.MaxUploadBytes; limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		cleanup := func() {
			if r.MultipartForm != nil {
				_ = r.MultipartForm.RemoveAll()
			}
		}
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return nil, cleanup, err
		}
		return nil, cleanup, domainError(http.StatusBadRequest, "INVALID_BODY", "invalid multipart body", nil)
	}
	return r.MultipartForm, func() { _ = r.MultipartForm.RemoveAll() }, nil
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && strings.EqualFold(mediaType, "multipart/form-data")
}

// formUploads collects the files sent as "files" or "file".
func formUploads(form *multipart.Form) []Upload {
	var uploads []Upload
	for _, field := range []string{"files", "file"} {
		for _, header := range form.File[field] {
			fh := header
			if fh.Filename == "" && fh.Size == 0 {
				continue
			}
			uploads = append(uploads, Upload{
				Filename: fh.Filename,
				Size:     fh.Size,
				Open:     func() (io.ReadCloser, error) { return fh.Open() },
			})
		}
	}
	return uploads
}
