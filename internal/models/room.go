package models

import "time"

// RoomPresence is the public view of the shared room.
type RoomPresence struct {
	Room  uint64   `json:"room"`
	Peers []string `json:"peers"`
	Count int      `json:"count"`
}

// MountMetadata stores information about a livestream mountpoint
type MountMetadata struct {
	ID        uint64    `json:"id"`
	Name      string    `json:"name"`
	RTP       RTPInfo   `json:"rtp"`
	CreatorID string    `json:"creatorId,omitempty"` // User ID from JWT, empty for WebSocket-created mounts
	CreatedAt time.Time `json:"createdAt"`
}

// CreateStreamRequest is the request body for creating a mountpoint
type CreateStreamRequest struct {
	ID   uint64 `json:"id" binding:"required"`
	Name string `json:"name" binding:"required,max=64"`
}
