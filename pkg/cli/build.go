// Copyright 2025 AUTHORS
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shiphq/ship/pkg/codecutil"
	"github.com/shiphq/ship/pkg/model"
	"github.com/shiphq/ship/pkg/swarm"
)

// localDriver adapts a *swarm.DockerAdapter's BuildImage method to
// buildplan.Driver's Build method name, so the same adapter type that
// drives the manager node's swarm can also drive the operator's local
// Docker daemon for client-side builds.
type localDriver struct {
	adapter *swarm.DockerAdapter
}

func (d localDriver) Build(ctx context.Context, b model.Buildable, logLine func(string)) error {
	return d.adapter.BuildImage(ctx, b, logLine)
}

// uploadBuiltImage exports image from the local daemon, zstd-compresses
// it, and uploads it to the manager node's /upload_image endpoint.
func uploadBuiltImage(ctx context.Context, c *Client, adapter *swarm.DockerAdapter, image string) error {
	tmp, err := os.MkdirTemp("", "ship-upload-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	tarPath := filepath.Join(tmp, "image.tar")
	if err := swarm.ExportToFile(ctx, adapter, image, tarPath); err != nil {
		return fmt.Errorf("export %s: %w", image, err)
	}

	zstPath := tarPath + ".zst"
	if err := codecutil.ZstdCompress(tarPath, zstPath); err != nil {
		return fmt.Errorf("compress %s: %w", image, err)
	}
	zf, err := os.Open(zstPath)
	if err != nil {
		return err
	}
	defer zf.Close()

	return c.UploadImage(ctx, "/upload_image", zf, filepath.Base(zstPath))
}
