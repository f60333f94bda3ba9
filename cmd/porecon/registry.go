package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"porecon/internal/catalog"
)

func registryCommand(use, short string, args cobra.PositionalArgs, run func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			e, err := openEnv(ctx, cmd, false)
			if err != nil {
				return err
			}
			defer e.Close()
			return run(ctx, e, cmd, args)
		},
	}
}

var addProductCmd = registryCommand("registry:add-product CODE DESCRIPTION...", "Add a warehouse product", cobra.MinimumNArgs(2),
	func(ctx context.Context, e *env, _ *cobra.Command, args []string) error {
		code := strings.TrimSpace(args[0])
		desc := strings.Join(args[1:], " ")
		if err := e.db.AddProduct(ctx, code, desc); err != nil {
			return err
		}
		fmt.Printf("added product %s\n", code)
		return nil
	})

var addMappingCmd = registryCommand("registry:add-mapping SUPPLIER SKU CODE", "Map a supplier SKU to a warehouse code", cobra.ExactArgs(3),
	func(ctx context.Context, e *env, _ *cobra.Command, args []string) error {
		if err := e.db.AddMapping(ctx, args[0], args[1], args[2]); err != nil {
			return err
		}
		fmt.Printf("mapped %s/%s -> %s\n", args[0], args[1], args[2])
		return nil
	})

var removeProductCmd = registryCommand("registry:remove-product CODE", "Remove a product and its mappings", cobra.ExactArgs(1),
	func(ctx context.Context, e *env, _ *cobra.Command, args []string) error {
		if err := e.db.RemoveProduct(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("removed product %s\n", args[0])
		return nil
	})

var listRegistryCmd = registryCommand("registry:list", "List products with their supplier mappings", cobra.NoArgs,
	func(ctx context.Context, e *env, _ *cobra.Command, _ []string) error {
		rows, err := e.db.RegistryRows(ctx)
		if err != nil {
			return err
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Code", "Description", "Mappings"})
		table.SetAutoWrapText(false)
		for _, r := range rows {
			maps := make([]string, 0, len(r.Mappings))
			for _, m := range r.Mappings {
				maps = append(maps, m.Supplier+":"+m.SupplierSKU)
			}
			table.Append([]string{r.WarehouseCode, r.Description, strings.Join(maps, ", ")})
		}
		table.Render()
		fmt.Printf("%d products\n", len(rows))
		return nil
	})

var searchRegistryCmd = registryCommand("registry:search QUERY", "Search products by code or description", cobra.MinimumNArgs(1),
	func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		query := strings.Join(args, " ")
		products, err := e.db.SearchProducts(ctx, query, limit)
		if err != nil {
			return err
		}
		if len(products) == 0 {
			all, err := e.db.Products(ctx)
			if err != nil {
				return err
			}
			products = catalog.BuildIndex(all).Suggest(query, limit)
			if len(products) > 0 {
				fmt.Println("no exact match, closest descriptions:")
			}
		}
		for _, p := range products {
			fmt.Printf("%s\t%s\n", p.WarehouseCode, p.Description)
		}
		return nil
	})

var importCatalogCmd = registryCommand("registry:import FILE.xlsx", "Import a master catalog workbook", cobra.ExactArgs(1),
	func(ctx context.Context, e *env, _ *cobra.Command, args []string) error {
		n, err := catalog.NewSyncService(e.db, e.logger).ImportXLSX(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("import complete: %d products\n", n)
		return nil
	})

func init() {
	searchRegistryCmd.Flags().Int("limit", 20, "max results")
	rootCmd.AddCommand(addProductCmd, addMappingCmd, removeProductCmd, listRegistryCmd, searchRegistryCmd, importCatalogCmd)
}
