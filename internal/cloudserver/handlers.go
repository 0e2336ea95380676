package cloudserver

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mindwtr/mindwtr/internal/storage"
)

const docKey = "docPath"

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleOptions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// requireToken resolves the bearer token to its document path.
func (s *Server) requireToken(c *gin.Context) {
	token := bearerToken(c.GetHeader("Authorization"))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	c.Set(docKey, s.documentPath(token))
	c.Next()
}

func (s *Server) handleGetData(c *gin.Context) {
	path := c.GetString(docKey)

	// #nosec G304 - path is derived from a hash
	body, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Printf("Failed to read %s: %v", filepath.Base(path), err)
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}
	if !json.Valid(body) {
		s.logger.Printf("Stored document %s is not valid JSON", filepath.Base(path))
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

func (s *Server) handlePutData(c *gin.Context) {
	path := c.GetString(docKey)

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.config.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Payload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing body"})
		return
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON body"})
		return
	}

	s.writeMu.Lock()
	err = storage.WriteFileAtomic(path, pretty.Bytes())
	s.writeMu.Unlock()
	if err != nil {
		s.logger.Printf("Failed to write %s: %v", filepath.Base(path), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store data"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) documentPath(token string) string {
	sum := sha256.Sum256([]byte(token))
	return filepath.Join(s.config.DataDir, hex.EncodeToString(sum[:])+".json")
}

// bearerToken extracts the token of an "Authorization: Bearer <token>"
// header, case-insensitively.
func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
