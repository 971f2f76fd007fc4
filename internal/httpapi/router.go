package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux（避免引入第三方路由依赖）
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterPositionerRoutes 注册定位垫管理路由
func (r *Router) RegisterPositionerRoutes(h *PositionerHandler) {
	// list（?patient=Patient/xxx 过滤某患者在用的定位垫）
	r.Handle("/positioner/api/v1/positioners", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.ListPositioners(w, req)
	})

	// scan
	r.Handle("/positioner/api/v1/positioners/scan", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.ScanAndActivate(w, req)
	})

	// stats
	r.Handle("/positioner/api/v1/stats", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.GetStats(w, req)
	})

	// barcode/{barcode} 或 {id}/{action}
	r.Handle("/positioner/api/v1/positioners/", func(w http.ResponseWriter, req *http.Request) {
		rest := strings.TrimPrefix(req.URL.Path, "/positioner/api/v1/positioners/")
		parts := strings.Split(rest, "/")

		switch {
		case len(parts) == 2 && parts[0] == "barcode" && req.Method == http.MethodGet:
			h.GetByBarcode(w, req, parts[1])
		case len(parts) == 2 && req.Method == http.MethodPost:
			h.HandleAction(w, req, parts[0], parts[1])
		case len(parts) == 3 && parts[1] == "rotation" && req.Method == http.MethodPost:
			h.HandleAction(w, req, parts[0], parts[1]+"/"+parts[2])
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}
