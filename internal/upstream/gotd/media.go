// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the TG-FileGate License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package gotd

import (
	"mime"
	"time"

	"github.com/gotd/td/tg"

	"github.com/nishisan-dev/tg-filegate/internal/upstream"
)

// mapMessage converte uma tg.Message no tipo neutro do gateway.
func mapMessage(msg *tg.Message) *upstream.Message {
	return &upstream.Message{
		ID:   msg.ID,
		Date: time.Unix(int64(msg.Date), 0),
		File: mapMedia(msg.Media),
	}
}

// mapMedia extrai o anexo servível de uma media. Documentos e fotos são
// suportados; os demais tipos (polls, geo, contatos) não são arquivos.
func mapMedia(media tg.MessageMediaClass) *upstream.File {
	switch m := media.(type) {
	case *tg.MessageMediaDocument:
		doc, ok := m.Document.AsNotEmpty()
		if !ok {
			return nil
		}
		return mapDocument(doc)
	case *tg.MessageMediaPhoto:
		photo, ok := m.Photo.AsNotEmpty()
		if !ok {
			return nil
		}
		return mapPhoto(photo)
	default:
		return nil
	}
}

func mapDocument(doc *tg.Document) *upstream.File {
	f := &upstream.File{
		MIMEType: doc.MimeType,
		Size:     doc.Size,
		DCID:     doc.DCID,
		Ext:      extForMIME(doc.MimeType),
		Location: &tg.InputDocumentFileLocation{
			ID:            doc.ID,
			AccessHash:    doc.AccessHash,
			FileReference: doc.FileReference,
		},
	}
	for _, attr := range doc.Attributes {
		if name, ok := attr.(*tg.DocumentAttributeFilename); ok {
			f.Name = name.FileName
			break
		}
	}
	return f
}

// mapPhoto escolhe a maior variante da foto. Fotos não carregam nome:
// o gateway sintetiza um pelo timestamp da mensagem.
func mapPhoto(photo *tg.Photo) *upstream.File {
	var (
		thumbType string
		size      int64
	)
	for _, s := range photo.Sizes {
		switch v := s.(type) {
		case *tg.PhotoSize:
			if int64(v.Size) > size {
				thumbType, size = v.Type, int64(v.Size)
			}
		case *tg.PhotoSizeProgressive:
			if n := len(v.Sizes); n > 0 && int64(v.Sizes[n-1]) > size {
				thumbType, size = v.Type, int64(v.Sizes[n-1])
			}
		}
	}
	if thumbType == "" {
		return nil
	}

	return &upstream.File{
		MIMEType: "image/jpeg",
		Ext:      ".jpg",
		Size:     size,
		DCID:     photo.DCID,
		Location: &tg.InputPhotoFileLocation{
			ID:            photo.ID,
			AccessHash:    photo.AccessHash,
			FileReference: photo.FileReference,
			ThumbSize:     thumbType,
		},
	}
}

// extForMIME retorna uma extensão (com ponto) para o MIME type, ou
// vazio quando não há mapeamento.
func extForMIME(mimeType string) string {
	exts, err := mime.ExtensionsByType(mimeType)
	if err != nil || len(exts) == 0 {
		return ""
	}
	return exts[0]
}
