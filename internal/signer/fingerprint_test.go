// Copyright 2023 Ross Light
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//		 https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package signer

import "testing"

func TestFingerprint(t *testing.T) {
	tests := []struct {
		name       string
		storePath  string
		narHash    string
		narSize    int64
		references []string
		want       string
	}{
		{
			name:      "Basic",
			storePath: "/nix/store/syd87l2rxw8cbsxmxl853h0r6pdwhwjr-curl-7.82.0-bin",
			narHash:   "sha256:1b4sb93wp679q4zx9k1ignby1yna3z7c4c2ri3wphylbc2dwsys0",
			narSize:   196040,
			references: []string{
				"/nix/store/0jqd0rlxzra1rs38rdxl43yh6rxchgc6-curl-7.82.0",
				"/nix/store/5dq2jj6d7k197p6fzqn8l5n0jfmhxmcg-glibc-2.33-59",
			},
			want: "1;/nix/store/syd87l2rxw8cbsxmxl853h0r6pdwhwjr-curl-7.82.0-bin;sha256:1b4sb93wp679q4zx9k1ignby1yna3z7c4c2ri3wphylbc2dwsys0;196040;/nix/store/0jqd0rlxzra1rs38rdxl43yh6rxchgc6-curl-7.82.0,/nix/store/5dq2jj6d7k197p6fzqn8l5n0jfmhxmcg-glibc-2.33-59",
		},
		{
			name:      "NoReferences",
			storePath: "/nix/store/26xbg1ndr7hbcncrlf9nhx5is2b25d13-hello-2.12.1",
			narHash:   "sha256:1mkvday29m2qxg1fnbv8xh9s6151bh8a2xzhh0k86j7lqhyfwibh",
			narSize:   226560,
			want:      "1;/nix/store/26xbg1ndr7hbcncrlf9nhx5is2b25d13-hello-2.12.1;sha256:1mkvday29m2qxg1fnbv8xh9s6151bh8a2xzhh0k86j7lqhyfwibh;226560;",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := Fingerprint("/nix/store", test.storePath, test.narHash, test.narSize, test.references)
			if err != nil {
				t.Fatalf("Fingerprint(...) error: %v", err)
			}
			if got != test.want {
				t.Errorf("Fingerprint(...) = %q; want %q", got, test.want)
			}
		})
	}
}

func TestFingerprintInvalidNarHash(t *testing.T) {
	_, err := Fingerprint("/nix/store", "/nix/store/test", "sha512:abc", 100, nil)
	if err != ErrInvalidNarHashPrefix {
		t.Errorf("Fingerprint(...) error = %v; want %v", err, ErrInvalidNarHashPrefix)
	}
}
