package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"androidbox/models"
	"androidbox/provider"
	"androidbox/service"
)

// StartDevice provisions a device end to end: container, boot wait,
// bridge. The boot report rides along in the response so clients can see
// the transition history; on failure it shows how far the boot got.
func StartDevice(c *gin.Context, m *service.Manager) {
	var spec models.DeviceSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse("invalid device spec: "+err.Error()))
		return
	}
	if spec.Name == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse("device spec needs a name"))
		return
	}

	handle, report, err := m.StartDevice(c.Request.Context(), spec)
	if err != nil {
		status := http.StatusInternalServerError
		var portErr *provider.PortError
		if errors.As(err, &portErr) {
			status = http.StatusConflict
		}
		resp := models.ErrorResponse(err.Error())
		if report != nil {
			resp.Data = gin.H{"boot": report}
		}
		c.JSON(status, resp)
		return
	}

	observeBoot(report)
	c.JSON(http.StatusOK, models.SuccessResponse(gin.H{
		"device": handle,
		"boot":   report,
	}))
}

// GetDevices lists every known device.
func GetDevices(c *gin.Context, m *service.Manager) {
	c.JSON(http.StatusOK, models.SuccessResponse(m.Handles()))
}

// GetDevice returns one device's handle plus its live properties when the
// container is up. Property reads go over adb and may take a moment.
func GetDevice(c *gin.Context, m *service.Manager) {
	name := c.Param("name")
	handle, ok := m.Handle(name)
	if !ok {
		c.JSON(http.StatusNotFound, models.ErrorResponse("unknown device "+name))
		return
	}
	body := gin.H{"device": handle}
	if handle.State == models.StateRunning {
		if info, err := m.DeviceInfo(c.Request.Context(), name); err == nil {
			body["info"] = info
		}
	}
	c.JSON(http.StatusOK, models.SuccessResponse(body))
}

// StopDevice tears a device down. Unknown names still get a cleanup
// attempt by container name, so a lost registry cannot strand containers.
func StopDevice(c *gin.Context, m *service.Manager) {
	name := c.Param("name")
	if err := m.StopDevice(c.Request.Context(), name); err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, models.MessageResponse("device "+name+" stopped"))
}

// DispatchAction forwards one action request to the device and returns the
// wire-shape response as-is. The request body is the same dialect-tolerant
// JSON the bridge itself accepts.
func DispatchAction(c *gin.Context, m *service.Manager) {
	name := c.Param("name")
	var request map[string]interface{}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse("invalid action request: "+err.Error()))
		return
	}

	resp, err := m.Execute(c.Request.Context(), name, request)
	if err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse(err.Error()))
		return
	}
	observeAction(name, resp)
	c.JSON(http.StatusOK, resp)
}

// GetScreenshot captures the device screen and returns raw PNG bytes.
func GetScreenshot(c *gin.Context, m *service.Manager) {
	name := c.Param("name")
	data, err := m.Screenshot(c.Request.Context(), name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse(err.Error()))
		return
	}
	c.Data(http.StatusOK, "image/png", data)
}

// GetActions returns the recent audit trail for a device.
func GetActions(c *gin.Context, m *service.Manager) {
	name := c.Param("name")
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	actions, err := m.RecentActions(name, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(actions))
}
