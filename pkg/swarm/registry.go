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

package swarm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/docker/cli/cli/config"
	"github.com/docker/distribution/reference"
	registrytypes "github.com/docker/docker/api/types/registry"
	"github.com/opencontainers/go-digest"
)

// registryAuth looks up the locally configured credentials for the
// registry host that ref resolves to (docker/cli's own config file
// format), base64-encoding them the way the Engine API expects for
// X-Registry-Auth headers on build and pull requests. A host with no
// stored credentials yields an empty string, which the Engine treats as
// anonymous.
func registryAuth(ref string) (string, error) {
	named, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return "", fmt.Errorf("parse image reference %q: %w", ref, err)
	}
	host := reference.Domain(named)

	cf := config.LoadDefaultConfigFile(nil)
	authConfig, err := cf.GetAuthConfig(host)
	if err != nil {
		return "", fmt.Errorf("load registry credentials for %s: %w", host, err)
	}

	buf, err := json.Marshal(registrytypes.AuthConfig{
		Username:      authConfig.Username,
		Password:      authConfig.Password,
		Auth:          authConfig.Auth,
		ServerAddress: authConfig.ServerAddress,
		IdentityToken: authConfig.IdentityToken,
	})
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(buf), nil
}

// PinDigest resolves ref's content digest from its registry and returns
// the reference rewritten as name@sha256:..., pinning the exact image
// content a Deployable will run, hardened against tag mutation between
// plan and apply.
func (a *DockerAdapter) PinDigest(ctx context.Context, ref string) (string, error) {
	named, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return "", fmt.Errorf("parse image reference %q: %w", ref, err)
	}

	inspect, err := a.cli.DistributionInspect(ctx, ref, "")
	if err != nil {
		// The registry may be unreachable (private, offline build
		// host); pinning is best-effort and falls back to the tag.
		return ref, nil
	}
	d := digest.Digest(inspect.Descriptor.Digest)
	if d.Validate() != nil {
		return ref, nil
	}
	canonical, err := reference.WithDigest(named, d)
	if err != nil {
		return ref, nil
	}
	return canonical.String(), nil
}
