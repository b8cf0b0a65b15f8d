package ports

import (
	"github.com/gin-gonic/gin"
)

type CallHTTPHandler interface {
	StartCall(c *gin.Context)
	AnswerCall(c *gin.Context)
	RejectCall(c *gin.Context)
	Hangup(c *gin.Context)
	SetAudio(c *gin.Context)
	SetVideo(c *gin.Context)
	CurrentCall(c *gin.Context)
}

type GroupHTTPHandler interface {
	JoinGroup(c *gin.Context)
	LeaveGroup(c *gin.Context)
	CurrentGroup(c *gin.Context)
	SetGroupAudio(c *gin.Context)
	SetGroupVideo(c *gin.Context)
}

type PresenceHTTPHandler interface {
	ListOnline(c *gin.Context)
	GetUserPresence(c *gin.Context)
}

type HistoryHTTPHandler interface {
	ListHistory(c *gin.Context)
}
