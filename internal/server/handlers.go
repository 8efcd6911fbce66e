package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/flowlexi/patchvec/internal/apperr"
	"github.com/flowlexi/patchvec/internal/engine"
	"github.com/flowlexi/patchvec/internal/preprocess"
)

func latencyMS(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()/10) / 100
}

func (s *Server) handleCreateCollection(c echo.Context) error {
	start := time.Now()
	tenant, collection := c.Param("tenant"), c.Param("collection")
	if err := s.authorize(c, tenant); err != nil {
		return s.renderError(c, err)
	}

	if err := s.engine.CreateCollection(c.Request().Context(), tenant, collection); err != nil {
		return s.renderError(c, err)
	}
	return c.JSON(http.StatusOK, OKResponse{
		OK: true, Tenant: tenant, Collection: collection, LatencyMS: latencyMS(start),
	})
}

func (s *Server) handleDeleteCollection(c echo.Context) error {
	start := time.Now()
	tenant, collection := c.Param("tenant"), c.Param("collection")
	if err := s.authorize(c, tenant); err != nil {
		return s.renderError(c, err)
	}

	if err := s.engine.DeleteCollection(c.Request().Context(), tenant, collection); err != nil {
		return s.renderError(c, err)
	}
	return c.JSON(http.StatusOK, OKResponse{
		OK: true, Tenant: tenant, Collection: collection, LatencyMS: latencyMS(start),
	})
}

func (s *Server) handleRenameCollection(c echo.Context) error {
	start := time.Now()
	tenant, collection := c.Param("tenant"), c.Param("collection")
	if err := s.authorize(c, tenant); err != nil {
		return s.renderError(c, err)
	}

	var body RenameBody
	if err := c.Bind(&body); err != nil {
		return s.renderError(c, apperr.InvalidRequest("invalid request body"))
	}
	if body.NewName == "" {
		return s.renderError(c, apperr.InvalidRequest("new_name is required"))
	}

	if err := s.engine.RenameCollection(c.Request().Context(), tenant, collection, body.NewName); err != nil {
		return s.renderError(c, err)
	}
	return c.JSON(http.StatusOK, OKResponse{
		OK: true, Tenant: tenant, Collection: collection, NewName: body.NewName, LatencyMS: latencyMS(start),
	})
}

func (s *Server) handleListCollections(c echo.Context) error {
	start := time.Now()
	tenant := c.Param("tenant")
	if err := s.authorize(c, tenant); err != nil {
		return s.renderError(c, err)
	}

	collections, err := s.engine.ListCollections(c.Request().Context(), tenant)
	if err != nil {
		return s.renderError(c, err)
	}
	return c.JSON(http.StatusOK, ListResponse{
		Tenant: tenant, Collections: collections, LatencyMS: latencyMS(start),
	})
}

func (s *Server) handleIngest(c echo.Context) error {
	tenant, collection := c.Param("tenant"), c.Param("collection")
	if err := s.authorize(c, tenant); err != nil {
		return s.renderError(c, err)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return s.renderError(c, apperr.InvalidRequest("multipart field 'file' is required"))
	}

	file, err := fileHeader.Open()
	if err != nil {
		return s.renderError(c, apperr.Internal(err))
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return s.renderError(c, apperr.Internal(err))
	}

	var metadata map[string]any
	if raw := c.FormValue("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			return s.renderError(c, apperr.InvalidRequest("invalid metadata json: %v", err))
		}
	}

	src := preprocess.Source{
		Filename:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Data:        data,
		CSV: preprocess.CSVOptions{
			HasHeader:   c.QueryParam("csv_has_header"),
			MetaCols:    splitParam(c.QueryParam("csv_meta_cols")),
			IncludeCols: splitParam(c.QueryParam("csv_include_cols")),
		},
	}

	result, err := s.engine.IngestDocument(c.Request().Context(), tenant, collection, src, c.FormValue("docid"), metadata)
	if err != nil {
		return s.renderError(c, err)
	}
	return c.JSON(http.StatusOK, IngestResponse{
		OK: true, Tenant: tenant, Collection: collection,
		DocID: result.DocID, Chunks: result.Chunks, Version: result.Version,
		LatencyMS: result.LatencyMS,
	})
}

func (s *Server) handleDeleteDocument(c echo.Context) error {
	tenant, collection := c.Param("tenant"), c.Param("collection")
	if err := s.authorize(c, tenant); err != nil {
		return s.renderError(c, err)
	}

	result, err := s.engine.DeleteDocument(c.Request().Context(), tenant, collection, c.Param("docid"))
	if err != nil {
		return s.renderError(c, err)
	}
	return c.JSON(http.StatusOK, DeleteDocResponse{
		OK: true, DocID: c.Param("docid"),
		ChunksDeleted: result.ChunksDeleted, LatencyMS: result.LatencyMS,
	})
}

func (s *Server) handleSearchGET(c echo.Context) error {
	tenant, collection := c.Param("tenant"), c.Param("collection")
	if err := s.authorize(c, tenant); err != nil {
		return s.renderError(c, err)
	}

	query := c.QueryParam("q")
	k := 5
	if raw := c.QueryParam("k"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return s.renderError(c, apperr.InvalidRequest("k must be a positive integer"))
		}
		k = parsed
	}

	return s.runSearch(c, tenant, collection, engine.SearchRequest{Query: query, K: k})
}

func (s *Server) handleSearchPOST(c echo.Context) error {
	tenant, collection := c.Param("tenant"), c.Param("collection")
	if err := s.authorize(c, tenant); err != nil {
		return s.renderError(c, err)
	}

	var body SearchBody
	if err := c.Bind(&body); err != nil {
		return s.renderError(c, apperr.InvalidRequest("invalid request body"))
	}
	if body.K == 0 {
		body.K = 5
	}

	return s.runSearch(c, tenant, collection, engine.SearchRequest{
		Query:     body.Q,
		K:         body.K,
		Filters:   body.Filters,
		RequestID: body.RequestID,
	})
}

func (s *Server) runSearch(c echo.Context, tenant, collection string, req engine.SearchRequest) error {
	result, err := s.engine.Search(c.Request().Context(), tenant, collection, req)
	if err != nil {
		return s.renderError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// splitParam parses a comma-separated query parameter.
func splitParam(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
