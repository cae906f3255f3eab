package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/LD-Reborn/embeddingsearch/pkg/database"
	"github.com/LD-Reborn/embeddingsearch/pkg/embedding"
	"github.com/LD-Reborn/embeddingsearch/pkg/probmethod"
	"github.com/LD-Reborn/embeddingsearch/pkg/search"
)

// healthHandler reports process and database health.
func (s *Server) healthHandler(c *gin.Context) {
	if err := s.db.Health(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
	})
}

// searchdomainHandler multiplexes the searchdomain verbs:
// /searchdomain?verb={create|update|list|get|delete}&name=...
func (s *Server) searchdomainHandler(c *gin.Context) {
	ctx := c.Request.Context()
	name := c.Query("name")

	switch c.Query("verb") {
	case "create":
		domain, err := s.service.SearchdomainCreate(ctx, name, database.DefaultSettings())
		if err != nil {
			s.renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, SearchdomainCreateResults{Success: true, ID: &domain.ID})

	case "update":
		if newName := c.Query("newname"); newName != "" {
			if err := s.service.SearchdomainUpdateName(ctx, name, newName); err != nil {
				s.renderError(c, err)
				return
			}
			c.JSON(http.StatusOK, SearchdomainUpdateResults{Success: true})
			return
		}
		setting := c.Query("setting")
		var value any
		if err := jsonUnmarshalQuery(c.Query("value"), &value); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_value", "reason": err.Error()})
			return
		}
		if err := s.service.SearchdomainUpdateSetting(ctx, name, setting, value); err != nil {
			s.renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, SearchdomainUpdateResults{Success: true})

	case "list":
		domains, err := s.service.SearchdomainList(ctx)
		if err != nil {
			s.renderError(c, err)
			return
		}
		names := make([]string, 0, len(domains))
		for _, domain := range domains {
			names = append(names, domain.Name)
		}
		c.JSON(http.StatusOK, SearchdomainListResults{Searchdomains: names})

	case "get":
		domain, err := s.service.SearchdomainGet(ctx, name, c.Query("create") == "true")
		if err != nil {
			s.renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, domain)

	case "delete", "remove", "rm":
		deleted, err := s.service.SearchdomainDelete(ctx, name)
		if err != nil {
			s.renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, SearchdomainDeleteResults{Success: true, DeletedEntities: deleted})

	default:
		c.JSON(http.StatusTeapot, gin.H{"error": "unknown verb"})
	}
}

// entityIndexHandler upserts one entity per payload element.
func (s *Server) entityIndexHandler(c *gin.Context) {
	var payload []IndexEntity
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "reason": err.Error()})
		return
	}

	for _, item := range payload {
		datapoints := make([]database.NewDatapoint, 0, len(item.Datapoints))
		for _, dp := range item.Datapoints {
			datapoints = append(datapoints, database.NewDatapoint{
				Name:                dp.Name,
				Text:                dp.Text,
				ProbmethodEmbedding: dp.ProbmethodEmbedding,
				Models:              dp.Model,
			})
		}
		_, err := s.service.EntityInsert(c.Request.Context(), item.Searchdomain, database.NewEntity{
			Name:       item.Name,
			Probmethod: item.Probmethod,
			Attributes: item.Attributes,
			Datapoints: datapoints,
		})
		if err != nil {
			s.renderError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, EntityIndexResult{Success: true, Indexed: len(payload)})
}

// entityQueryHandler runs a search:
// /entity/query?searchdomain=...&text=...&limit=...
func (s *Server) entityQueryHandler(c *gin.Context) {
	domain := c.Query("searchdomain")
	text := c.Query("text")
	if domain == "" || text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "reason": "searchdomain and text are required"})
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "reason": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	results, err := s.service.EntityQuery(c.Request.Context(), domain, text, limit)
	if err != nil {
		s.renderError(c, err)
		return
	}
	out := EntityQueryResults{Results: make([]EntityQueryResult, 0, len(results))}
	for _, r := range results {
		out.Results = append(out.Results, EntityQueryResult{Name: r.Name, Score: r.Score})
	}
	c.JSON(http.StatusOK, out)
}

// entityListHandler lists the entities of a searchdomain, with embedding
// payloads when ?embeddings=true.
func (s *Server) entityListHandler(c *gin.Context) {
	domain := c.Query("searchdomain")
	if domain == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "reason": "searchdomain is required"})
		return
	}
	withEmbeddings := c.Query("embeddings") == "true"

	entities, err := s.service.EntityList(c.Request.Context(), domain)
	if err != nil {
		s.renderError(c, err)
		return
	}

	out := EntityListResults{Entities: make([]EntityResult, 0, len(entities))}
	for _, entity := range entities {
		er := EntityResult{
			Name:       entity.Name,
			Probmethod: entity.Probmethod,
			Attributes: make([]AttributeResult, 0, len(entity.Attributes)),
			Datapoints: make([]DatapointResult, 0, len(entity.Datapoints)),
		}
		for _, at := range entity.Attributes {
			er.Attributes = append(er.Attributes, AttributeResult{Name: at.Name, Value: at.Value})
		}
		for _, dp := range entity.Datapoints {
			dr := DatapointResult{
				Name:                dp.Name,
				ProbmethodEmbedding: dp.ProbmethodEmbedding,
				Embeddings:          make([]EmbeddingResult, 0, len(dp.Embeddings)),
			}
			for _, em := range dp.Embeddings {
				result := EmbeddingResult{Model: em.Model}
				if withEmbeddings {
					result.Embedding = em.Embedding
				}
				dr.Embeddings = append(dr.Embeddings, result)
			}
			er.Datapoints = append(er.Datapoints, dr)
		}
		out.Entities = append(out.Entities, er)
	}
	c.JSON(http.StatusOK, out)
}

// entityDeleteHandler removes an entity:
// DELETE /entity?searchdomain=...&name=...
func (s *Server) entityDeleteHandler(c *gin.Context) {
	domain := c.Query("searchdomain")
	name := c.Query("name")
	if domain == "" || name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "reason": "searchdomain and name are required"})
		return
	}
	if err := s.service.EntityDelete(c.Request.Context(), domain, name); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"Success": true})
}

// jsonUnmarshalQuery decodes a setting value from its query-string form.
// A value that parses as JSON (a number, a boolean, ...) decodes as JSON;
// anything else stays a raw string. Settings validation rejects either if
// the key wants another type.
func jsonUnmarshalQuery(raw string, dst *any) error {
	if raw == "" {
		return errors.New("value is required")
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		*dst = raw
	}
	return nil
}

// renderError maps service errors onto HTTP statuses.
func (s *Server) renderError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	kind := "storage_error"
	switch {
	case errors.Is(err, database.ErrNotFound):
		status, kind = http.StatusNotFound, "not_found"
	case errors.Is(err, database.ErrConflict):
		status, kind = http.StatusConflict, "conflict"
	case errors.Is(err, database.ErrBadSettings):
		status, kind = http.StatusBadRequest, "bad_settings"
	case errors.Is(err, probmethod.ErrUnknown):
		status, kind = http.StatusBadRequest, "unknown_probmethod"
	case errors.Is(err, embedding.ErrDimensionMismatch):
		status, kind = http.StatusInternalServerError, "dimension_mismatch"
	case errors.Is(err, embedding.ErrService):
		status, kind = http.StatusBadGateway, "embedding_service_error"
	case errors.Is(err, search.ErrCancelled):
		status, kind = http.StatusGatewayTimeout, "cancelled"
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	c.JSON(status, gin.H{"error": kind, "reason": err.Error()})
}
