/***************************************************************
 *
 * Copyright (C) 2026, Pelican Project, Morgridge Institute for Research
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"github.com/pkg/sftp"
	"github.com/spf13/cobra"

	"github.com/hoptree/hoptree/inventory"
	"github.com/hoptree/hoptree/sftp_pool"
	"github.com/hoptree/hoptree/ssh_transport"
)

var (
	sftpCmd = &cobra.Command{
		Use:   "sftp",
		Short: "Transfer files to and from a node over SFTP",
	}

	sftpLsCmd = &cobra.Command{
		Use:   "ls <node-id> [remote-path]",
		Short: "List a remote directory",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runSftpLs,
	}

	sftpGetCmd = &cobra.Command{
		Use:   "get <node-id> <remote-path> [local-path]",
		Short: "Download a remote file",
		Args:  cobra.RangeArgs(2, 3),
		RunE:  runSftpGet,
	}

	sftpPutCmd = &cobra.Command{
		Use:   "put <node-id> <local-path> <remote-path>",
		Short: "Upload a local file",
		Args:  cobra.ExactArgs(3),
		RunE:  runSftpPut,
	}
)

func init() {
	sftpCmd.AddCommand(sftpLsCmd)
	sftpCmd.AddCommand(sftpGetCmd)
	sftpCmd.AddCommand(sftpPutCmd)
}

// withPool runs fn against a pool that lives for the command
func withPool(cmd *cobra.Command, fn func(ctx context.Context, pool *sftp_pool.Pool, inv *inventory.Inventory) error) error {
	inv, err := loadInventory()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	opts := ssh_transport.OptionsFromConfig()
	pool := sftp_pool.NewPool(ssh_transport.NewDialer(opts), opts)
	defer pool.Shutdown()
	return fn(ctx, pool, inv)
}

func runSftpLs(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 2 {
		dir = args[1]
	}
	return withPool(cmd, func(ctx context.Context, pool *sftp_pool.Pool, inv *inventory.Inventory) error {
		return listRemote(ctx, pool, inv, args[0], dir, cmd.OutOrStdout())
	})
}

func runSftpGet(cmd *cobra.Command, args []string) error {
	local := path.Base(args[1])
	if len(args) == 3 {
		local = args[2]
	}
	return withPool(cmd, func(ctx context.Context, pool *sftp_pool.Pool, inv *inventory.Inventory) error {
		n, err := downloadFile(ctx, pool, inv, args[0], args[1], local)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%d bytes)\n", args[1], local, n)
		return nil
	})
}

func runSftpPut(cmd *cobra.Command, args []string) error {
	return withPool(cmd, func(ctx context.Context, pool *sftp_pool.Pool, inv *inventory.Inventory) error {
		n, err := uploadFile(ctx, pool, inv, args[0], args[1], args[2])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%d bytes)\n", args[1], args[2], n)
		return nil
	})
}

func listRemote(ctx context.Context, pool *sftp_pool.Pool, inv *inventory.Inventory, nodeID, dir string, w io.Writer) error {
	infos, err := sftp_pool.Execute(ctx, pool, nodeID, nil, inv, func(client *sftp.Client) ([]os.FileInfo, error) {
		return client.ReadDir(dir)
	})
	if err != nil {
		return errors.Wrapf(err, "failed to list %s on %s", dir, nodeID)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })
	for _, info := range infos {
		name := info.Name()
		if info.IsDir() {
			name += "/"
		}
		fmt.Fprintf(w, "%s %10d %s %s\n", info.Mode(), info.Size(), info.ModTime().Format("2006-01-02 15:04"), name)
	}
	return nil
}

func downloadFile(ctx context.Context, pool *sftp_pool.Pool, inv *inventory.Inventory, nodeID, remote, local string) (int64, error) {
	if dir := filepath.Dir(local); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return 0, errors.Wrapf(err, "failed to create %s", dir)
		}
	}
	dst, err := os.Create(local)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to create %s", local)
	}
	n, err := sftp_pool.Execute(ctx, pool, nodeID, nil, inv, func(client *sftp.Client) (int64, error) {
		src, err := client.Open(remote)
		if err != nil {
			return 0, err
		}
		defer src.Close()
		return src.WriteTo(dst)
	})
	if closeErr := dst.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(local)
		return 0, errors.Wrapf(err, "failed to download %s from %s", remote, nodeID)
	}
	return n, nil
}

func uploadFile(ctx context.Context, pool *sftp_pool.Pool, inv *inventory.Inventory, nodeID, local, remote string) (int64, error) {
	src, err := os.Open(local)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to open %s", local)
	}
	defer src.Close()

	n, err := sftp_pool.Execute(ctx, pool, nodeID, nil, inv, func(client *sftp.Client) (int64, error) {
		dst, err := client.Create(remote)
		if err != nil {
			return 0, err
		}
		n, err := dst.ReadFrom(src)
		if closeErr := dst.Close(); err == nil {
			err = closeErr
		}
		return n, err
	})
	if err != nil {
		return 0, errors.Wrapf(err, "failed to upload %s to %s", local, nodeID)
	}
	return n, nil
}
