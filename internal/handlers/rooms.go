package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/videoroom-relay/internal/janus"
	"github.com/mossy-p/videoroom-relay/internal/logger"
	"github.com/mossy-p/videoroom-relay/internal/models"
	"github.com/mossy-p/videoroom-relay/internal/redis"
)

// PresenceReader lists the display names joined to the room.
type PresenceReader interface {
	Peers(ctx context.Context) ([]string, error)
}

// MountReader loads stored mountpoint metadata.
type MountReader interface {
	GetMount(ctx context.Context, id uint64) (*models.MountMetadata, error)
}

// StreamController creates and destroys mountpoints on the gateway.
type StreamController interface {
	StartStream(ctx context.Context, id uint64, name, creator string) (models.RTPInfo, error)
	DestroyStream(ctx context.Context, id uint64) error
}

// GetRoom returns the current presence of the shared room (public)
func GetRoom(room uint64, presence PresenceReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		peers, err := presence.Peers(c.Request.Context())
		if err != nil {
			logger.Errorf("Failed to read room presence: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read room"})
			return
		}
		if peers == nil {
			peers = []string{}
		}
		c.JSON(http.StatusOK, models.RoomPresence{Room: room, Peers: peers, Count: len(peers)})
	}
}

// CreateStream creates or replaces a mountpoint (requires authentication)
func CreateStream(streams StreamController) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := c.Get("user_id")
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		var req models.CreateStreamRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		rtp, err := streams.StartStream(c.Request.Context(), req.ID, req.Name, userID.(string))
		if err != nil {
			logger.Errorf("Failed to create mountpoint %d: %v", req.ID, err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to create stream"})
			return
		}

		logger.Infof("Stream %d (%s) created by user %s", req.ID, req.Name, userID)
		c.JSON(http.StatusCreated, models.MountCreated(req.ID, rtp))
	}
}

// GetStream returns stored mountpoint metadata (public)
func GetStream(mounts MountReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := streamID(c)
		if !ok {
			return
		}

		m, err := mounts.GetMount(c.Request.Context(), id)
		if errors.Is(err, redis.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Stream not found"})
			return
		}
		if err != nil {
			logger.Errorf("Failed to read mountpoint %d: %v", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read stream"})
			return
		}
		c.JSON(http.StatusOK, m)
	}
}

// DeleteStream destroys a mountpoint (requires authentication). Mountpoints
// created through the API can only be deleted by their creator.
func DeleteStream(streams StreamController, mounts MountReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := c.Get("user_id")
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}
		id, ok := streamID(c)
		if !ok {
			return
		}

		m, err := mounts.GetMount(c.Request.Context(), id)
		if err == nil && m.CreatorID != "" && m.CreatorID != userID.(string) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Only the stream creator can delete the stream"})
			return
		}

		err = streams.DestroyStream(c.Request.Context(), id)
		if janus.IsCode(err, janus.CodeStreamingNoSuchMount) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Stream not found"})
			return
		}
		if err != nil {
			logger.Errorf("Failed to destroy mountpoint %d: %v", id, err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to delete stream"})
			return
		}

		logger.Infof("Stream %d deleted by user %s", id, userID)
		c.JSON(http.StatusOK, models.MountDestroyed(id))
	}
}

func streamID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("streamId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid stream id"})
		return 0, false
	}
	return id, true
}
