package handlers

import (
	"github.com/visageapp/visage/internal/chat"
	"github.com/visageapp/visage/internal/config"
	"github.com/visageapp/visage/internal/storage"
	"github.com/visageapp/visage/internal/store/redisstore"
)

type Handler struct {
	Cfg      config.Config
	ChatSvc  *chat.Service
	Cache    *redisstore.Store
	Uploader *storage.Uploader
}

func NewHandler(cfg config.Config, svc *chat.Service, cache *redisstore.Store, uploader *storage.Uploader) *Handler {
	return &Handler{Cfg: cfg, ChatSvc: svc, Cache: cache, Uploader: uploader}
}
