package main

import (
	"github.com/h2non/filetype"

	"github.com/Faultbox/g2tools/pkg/formats"
)

// File kinds recognised by their magic.
var (
	glmType = filetype.NewType("glm", "model/x-ghoul2-glm")
	glaType = filetype.NewType("gla", "model/x-ghoul2-gla")
	glbType = filetype.NewType("glb", "model/gltf-binary")
)

func init() {
	filetype.AddMatcher(glmType, magic(formats.GLMMagic))
	filetype.AddMatcher(glaType, magic(formats.GLAMagic))
	filetype.AddMatcher(glbType, magic("glTF"))
}

func magic(m string) func([]byte) bool {
	return func(buf []byte) bool {
		return len(buf) >= len(m) && string(buf[:len(m)]) == m
	}
}

// sniff returns "glm", "gla", "glb", another known extension, or "".
func sniff(data []byte) string {
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown {
		return ""
	}
	return kind.Extension
}
