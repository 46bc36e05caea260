// Package storage 附件文件存储,只负责保存字节并返回引用
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
)

// FileStorage 文件存储接口
type FileStorage interface {
	// Put 保存文件内容,返回可用于定位文件的引用
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error)
	// Delete 删除文件,引用不存在时不报错
	Delete(ctx context.Context, ref string) error
}

// AttachmentKey 生成附件对象键: {prefix}/{organization}/{record}/{attachment}{ext}
func AttachmentKey(prefix, organizationID, recordID, attachmentID, fileName string) string {
	ext := strings.ToLower(path.Ext(fileName))
	parts := make([]string, 0, 4)
	if p := strings.Trim(prefix, "/"); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, organizationID, recordID, fmt.Sprintf("%s%s", attachmentID, ext))
	return strings.Join(parts, "/")
}
