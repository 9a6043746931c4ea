package kv

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/qkv-io/qkv/cmd/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const versionVectorHeader = "X-Version-Vector"

var (
	getCmd = &cobra.Command{
		Use:     "get [key]",
		Short:   "Read a key",
		Long:    `Read a key. Prints the value, or all concurrent versions if the key was modified concurrently. The version vector printed to stderr is the causal context for a follow-up put or del.`,
		Args:    cobra.ExactArgs(1),
		PreRunE: bindFlags,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := doRequest(http.MethodGet, args[0], nil)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}

			switch resp.StatusCode {
			case http.StatusOK:
				fmt.Print(string(body))
			case http.StatusMultipleChoices:
				fmt.Fprintln(cmd.ErrOrStderr(), "concurrent versions, resolve by writing with the context below:")
				fmt.Print(string(body))
			case http.StatusNotFound:
				return fmt.Errorf("key %q not found", args[0])
			default:
				return httpError(resp.StatusCode, body)
			}

			if vec := resp.Header.Get(versionVectorHeader); vec != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", versionVectorHeader, vec)
			}
			return nil
		},
	}

	putCmd = &cobra.Command{
		Use:     "put [key] [value]",
		Short:   "Write a key",
		Long:    `Write a key. Pass --context with the version vector of a previous get so the write supersedes what was read.`,
		Args:    cobra.ExactArgs(2),
		PreRunE: bindFlags,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := doRequest(http.MethodPut, args[0], strings.NewReader(args[1]))
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if resp.StatusCode != http.StatusOK {
				return httpError(resp.StatusCode, body)
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", versionVectorHeader, resp.Header.Get(versionVectorHeader))
			return nil
		},
	}

	delCmd = &cobra.Command{
		Use:     "del [key]",
		Short:   "Delete a key",
		Long:    `Delete a key. Pass --context with the version vector of a previous get so the delete supersedes what was read.`,
		Args:    cobra.ExactArgs(1),
		PreRunE: bindFlags,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := doRequest(http.MethodDelete, args[0], nil)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
				return httpError(resp.StatusCode, body)
			}
			return nil
		},
	}
)

func bindFlags(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	// endpoint, timeout and context live on the parent command
	return viper.BindPFlags(cmd.InheritedFlags())
}

func doRequest(method, key string, body io.Reader) (*http.Response, error) {
	endpoint := strings.TrimSuffix(viper.GetString("endpoint"), "/")
	req, err := http.NewRequest(method, endpoint+"/keys/"+url.PathEscape(key), body)
	if err != nil {
		return nil, err
	}
	if ctx := viper.GetString("context"); ctx != "" {
		req.Header.Set(versionVectorHeader, ctx)
	}

	client := &http.Client{Timeout: time.Duration(viper.GetInt("timeout")) * time.Second}
	return client.Do(req)
}

func httpError(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return fmt.Errorf("request failed with status %d", status)
	}
	return fmt.Errorf("request failed with status %d: %s", status, msg)
}
