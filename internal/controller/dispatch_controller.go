// internal/controller/dispatch_controller.go
package controller

import (
	"net/http"

	"github.com/unclebandit/newsletter-service/internal/httputil"
)

type DispatchController struct {
	Dispatcher DispatchRunner
}

func (c *DispatchController) GetStatus(w http.ResponseWriter, r *http.Request) {
	current, last := c.Dispatcher.Status()
	httputil.OK(w, map[string]interface{}{
		"running": current != nil,
		"current": current,
		"last":    last,
	})
}

// Cancel reports 202 when a run in this process was asked to stop and 409
// when nothing is running here.
func (c *DispatchController) Cancel(w http.ResponseWriter, r *http.Request) {
	if !c.Dispatcher.Cancel() {
		httputil.Error(w, http.StatusConflict, "not_running", "no dispatch is running")
		return
	}
	httputil.Accepted(w, map[string]interface{}{"cancelled": true})
}
