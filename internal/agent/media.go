package agent

import (
	"encoding/base64"
	"net/http"

	"github.com/nextlevelbuilder/goclaw/internal/providers"
)

// ImageInput is raw image bytes attached to one turn (spec §4.3.3).
type ImageInput struct {
	Data []byte
}

// applyImage implements spec §4.3.3: convert the last user turn into a
// block list whose first block is the image (base64 + MIME sniffed from
// magic bytes) and whose second block is the existing text, if any.
func applyImage(msgs []providers.Message, img *ImageInput) []providers.Message {
	if img == nil || len(img.Data) == 0 || len(msgs) == 0 {
		return msgs
	}
	last := &msgs[len(msgs)-1]
	if last.Role != "user" {
		return msgs
	}

	mediaType := http.DetectContentType(img.Data)
	imageBlock := providers.ContentBlock{
		Type: providers.BlockImage,
		Image: &providers.ImageContent{
			MediaType: mediaType,
			Data:      base64.StdEncoding.EncodeToString(img.Data),
		},
	}

	text := last.Text()
	blocks := []providers.ContentBlock{imageBlock}
	if text != "" {
		blocks = append(blocks, providers.ContentBlock{Type: providers.BlockText, Text: text})
	}
	last.Content = blocks
	return msgs
}

// stripImages drops image blocks from messages before persisting the
// session (spec §4.2's "binary content... is never written to the
// session store").
func stripImages(msgs []providers.Message) []providers.Message {
	out := make([]providers.Message, len(msgs))
	for i, m := range msgs {
		blocks := make([]providers.ContentBlock, 0, len(m.Content))
		for _, b := range m.Content {
			if b.Type == providers.BlockImage {
				continue
			}
			blocks = append(blocks, b)
		}
		out[i] = providers.Message{Role: m.Role, Content: blocks}
	}
	return out
}
