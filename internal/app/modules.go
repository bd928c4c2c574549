package app

import (
	"github.com/vk/pipegridgo/internal/registry"
	"github.com/vk/pipegridgo/nodes/checksum"
	"github.com/vk/pipegridgo/nodes/imagelist"
	"github.com/vk/pipegridgo/nodes/publish"
)

// coreModules lists the node type packages compiled into the default binary.
// Tests pass their own modules to NewApp to keep registries isolated.
var coreModules = []registry.Module{
	&imagelist.Module{},
	&checksum.Module{},
	&publish.Module{},
}
