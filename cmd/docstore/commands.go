package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jacentio/docstore/store"
)

func (a *app) provisionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "provision",
		Short: "Create the configured databases and collections",
		Long: `Create every configured database and collection that doesn't exist yet.
Existing ones are left untouched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if _, err := a.factory.GetOrCreate(cmd.Context(), cfg); err != nil {
				return err
			}
			for _, db := range cfg.DatabaseIDs() {
				for _, coll := range cfg.Databases[db] {
					fmt.Fprintf(cmd.OutOrStdout(), "%s/%s\n", db, coll.Name)
				}
			}
			return nil
		},
	}
}

func (a *app) putCmd() *cobra.Command {
	var (
		create  bool
		ifMatch string
	)
	cmd := &cobra.Command{
		Use:   "put [file]",
		Short: "Write a JSON document",
		Long: `Write a JSON document read from a file, or stdin when the file is "-" or
omitted. The document is upserted unless --create or --if-match is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(cmd, args)
			if err != nil {
				return err
			}
			provider, ctx, err := a.commandSession(cmd.Context())
			if err != nil {
				return err
			}
			repo, err := a.repository(provider)
			if err != nil {
				return err
			}

			var env store.Envelope[store.Document]
			switch {
			case create:
				env, err = repo.Create(ctx, doc)
			case ifMatch != "":
				id, idErr := store.DocumentID(doc)
				if idErr != nil {
					return idErr
				}
				env, err = repo.Replace(ctx, id, doc, ifMatch)
			default:
				env, err = repo.Upsert(ctx, doc)
			}
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), envelopeJSON(env))
		},
	}
	cmd.Flags().BoolVar(&create, "create", false, "Fail if the document already exists")
	cmd.Flags().StringVar(&ifMatch, "if-match", "", "Replace only if the stored document has this etag")
	cmd.MarkFlagsMutuallyExclusive("create", "if-match")
	return cmd
}

func (a *app) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id> [partition-key]",
		Short: "Read a document",
		Long: `Read a document by id. The partition key may be omitted for collections
partitioned by "/id".`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, ctx, err := a.commandSession(cmd.Context())
			if err != nil {
				return err
			}
			repo, err := a.repository(provider)
			if err != nil {
				return err
			}
			env, err := repo.Read(ctx, args[0], optionalArg(args, 1))
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), envelopeJSON(env))
		},
	}
}

func (a *app) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id> [partition-key]",
		Short: "Delete a document",
		Long:  `Delete a document by id. Deleting a missing document is not an error.`,
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, ctx, err := a.commandSession(cmd.Context())
			if err != nil {
				return err
			}
			repo, err := a.repository(provider)
			if err != nil {
				return err
			}
			deleted, err := repo.Delete(ctx, args[0], optionalArg(args, 1))
			if err != nil {
				return err
			}
			if deleted {
				fmt.Fprintln(cmd.OutOrStdout(), "deleted")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "not found")
			}
			return nil
		},
	}
}

func (a *app) queryCmd() *cobra.Command {
	var partition string
	cmd := &cobra.Command{
		Use:   "query <statement> [params...]",
		Short: "Query the active collection",
		Long: `Run a query such as "SELECT * FROM c WHERE c.status = ?". Each parameter is
parsed as JSON when possible and passed as a string otherwise.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, ctx, err := a.commandSession(cmd.Context())
			if err != nil {
				return err
			}
			repo, err := a.repository(provider)
			if err != nil {
				return err
			}

			params := make([]any, 0, len(args)-1)
			for _, raw := range args[1:] {
				params = append(params, parseParam(raw))
			}
			q := store.NewQuery(args[0], params...)
			if partition != "" {
				q = q.InPartition(partition)
			}

			docs, err := repo.Query(ctx, q)
			if err != nil {
				return err
			}
			if docs == nil {
				docs = []store.Document{}
			}
			return writeJSON(cmd.OutOrStdout(), docs)
		},
	}
	cmd.Flags().StringVar(&partition, "partition", "", "Restrict the query to one partition key value")
	return cmd
}

func readDocument(cmd *cobra.Command, args []string) (store.Document, error) {
	var (
		data []byte
		err  error
	)
	if len(args) == 0 || args[0] == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: document is not valid JSON", store.ErrInvalidArgument)
	}
	return store.Document(data), nil
}

func optionalArg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

func parseParam(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

type envelopeOutput struct {
	Document     json.RawMessage `json:"document"`
	ETag         string          `json:"etag"`
	SessionToken string          `json:"sessionToken,omitempty"`
}

func envelopeJSON(env store.Envelope[store.Document]) envelopeOutput {
	return envelopeOutput{Document: env.Document, ETag: env.ETag, SessionToken: env.SessionToken}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
