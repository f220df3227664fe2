package httpapi

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"

	"github.com/FeishuCampRAG/rag-sys/internal/core/ingestion"
	"github.com/FeishuCampRAG/rag-sys/internal/infra/extract"
)

// sniffSize はMIME判定に使う先頭バイト数
const sniffSize = 512

type uploadResponse struct {
	ID           string                   `json:"id"`
	Filename     string                   `json:"filename"`
	OriginalName string                   `json:"original_name"`
	Status       ingestion.DocumentStatus `json:"status"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadSize)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	originalName := filepath.Base(header.Filename)
	declared := header.Header.Get("Content-Type")
	if !extract.Supported(declared) && !extract.SupportedExtension(originalName) {
		writeError(w, http.StatusBadRequest, "Unsupported file type")
		return
	}

	head := make([]byte, sniffSize)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	head = head[:n]

	doc, err := s.services.Documents.Store(r.Context(), io.MultiReader(bytes.NewReader(head), file), ingestion.Upload{
		OriginalName: originalName,
		MimeType:     extract.ResolveMimeType(declared, originalName, head),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeData(w, uploadResponse{
		ID:           doc.ID,
		Filename:     doc.Filename,
		OriginalName: doc.OriginalName,
		Status:       doc.Status,
	})

	// 応答後に取り込みを続ける。失敗はドキュメントの状態として記録される。
	ctx := context.WithoutCancel(r.Context())
	s.goBackground(func() {
		_ = s.services.Documents.Process(ctx, doc)
	})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.services.Documents.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, docs)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.services.Documents.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDocumentError(w, err)
		return
	}
	writeData(w, doc)
}

func (s *Server) handleDocumentChunks(w http.ResponseWriter, r *http.Request) {
	chunks, err := s.services.Documents.Chunks(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, chunks)
}

func (s *Server) handleDocumentContent(w http.ResponseWriter, r *http.Request) {
	content, err := s.services.Documents.Content(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDocumentError(w, err)
		return
	}
	writeData(w, content)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.services.Documents.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeDocumentError(w, err)
		return
	}
	writeOK(w)
}

func writeDocumentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ingestion.ErrDocumentNotFound):
		writeError(w, http.StatusNotFound, "Document not found")
	case errors.Is(err, ingestion.ErrDocumentFileNotFound):
		writeError(w, http.StatusNotFound, "Document file not found")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
