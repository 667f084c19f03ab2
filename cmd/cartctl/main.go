package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/cartsync/internal/app"
	"github.com/dropDatabas3/cartsync/internal/cartstate"
	"github.com/dropDatabas3/cartsync/internal/config"
	"github.com/dropDatabas3/cartsync/internal/coordinator"
	"github.com/dropDatabas3/cartsync/internal/observability/logger"
)

type cli struct {
	configPath string
	envFile    string
	out        string // "json" | "text"

	app *app.App
	w   io.Writer
}

func main() {
	c := &cli{w: os.Stdout}
	root := c.rootCmd()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cartctl",
		Short:         "Carrito desde la terminal: guest o logueado, contra el backend configurado",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.open(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			_ = logger.Sync()
			if c.app == nil {
				return nil
			}
			return c.app.Close()
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", envOr("CARTSYNC_CONFIG", ""), "ruta a cartsync.yaml (env CARTSYNC_CONFIG)")
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "ruta a .env (si existe, se carga)")
	root.PersistentFlags().StringVar(&c.out, "out", envOr("CARTSYNC_OUT", "text"), "Formato de salida: json|text")

	root.AddCommand(
		c.stateCmd(),
		c.addCmd(),
		c.setCmd(),
		c.rmCmd(),
		c.clearCmd(),
		c.refreshCmd(),
		c.loginCmd(),
		c.logoutCmd(),
		c.whoamiCmd(),
	)
	return root
}

func (c *cli) open(ctx context.Context) error {
	if c.envFile != "" {
		if _, err := os.Stat(c.envFile); err == nil {
			if err := godotenv.Load(c.envFile); err != nil {
				return fmt.Errorf("dotenv %s: %w", c.envFile, err)
			}
		}
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	lc := logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level, ServiceName: "cartctl"}
	if cfg.Log.File != "" {
		lc.OutputPaths = []string{cfg.Log.File}
	}
	logger.Init(lc)

	c.app, err = app.New(logger.ToContext(ctx, logger.L()), cfg, app.Options{})
	return err
}

func (c *cli) stateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Muestra el carrito (lo lee del backend si hace falta)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := c.app.Load(cmd.Context())
			if err != nil {
				return err
			}
			return c.printState(st)
		},
	}
}

func (c *cli) addCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <variant-id> [quantity]",
		Short: "Agrega un variant al carrito (quantity default 1)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty := 1
			if len(args) == 2 {
				n, err := strconv.Atoi(args[1])
				if err != nil {
					return fmt.Errorf("quantity inválida %q", args[1])
				}
				qty = n
			}
			st, err := c.app.AddItem(cmd.Context(), args[0], qty)
			if err != nil {
				return err
			}
			return c.printState(st)
		},
	}
}

func (c *cli) setCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <item-id> <quantity>",
		Short: "Cambia la cantidad de una línea (0 la elimina)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("quantity inválida %q", args[1])
			}
			st, err := c.app.UpdateQuantity(cmd.Context(), args[0], qty)
			if err != nil {
				return err
			}
			return c.printState(st)
		},
	}
}

func (c *cli) rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <item-id>",
		Short: "Elimina una línea del carrito",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := c.app.RemoveItem(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.printState(st)
		},
	}
}

func (c *cli) clearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Vacía el carrito",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := c.app.Clear(cmd.Context())
			if err != nil {
				return err
			}
			return c.printState(st)
		},
	}
}

func (c *cli) refreshCmd() *cobra.Command {
	var token bool
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Relee el carrito del backend (--token rota la credencial)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if token {
				if err := c.app.RefreshToken(cmd.Context()); err != nil {
					return err
				}
			}
			st, err := c.app.Refresh(cmd.Context())
			if err != nil {
				return err
			}
			return c.printState(st)
		},
	}
	cmd.Flags().BoolVar(&token, "token", false, "rotar el token antes de leer")
	return cmd
}

func (c *cli) loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Login con email/password; mergea el carrito guest en el del usuario",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" {
				return fmt.Errorf("--email es requerido")
			}
			if password == "" {
				password = os.Getenv("CARTSYNC_PASSWORD")
			}
			tr, err := c.app.Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			return c.printTransition(tr)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email del usuario")
	cmd.Flags().StringVar(&password, "password", "", "password (env CARTSYNC_PASSWORD)")
	return cmd
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Cierra la sesión y vuelve al carrito guest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := c.app.Logout(cmd.Context())
			if err != nil {
				return err
			}
			return c.printTransition(tr)
		},
	}
}

func (c *cli) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Muestra la identidad activa",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := c.app.Identity(cmd.Context())
			if err != nil {
				return err
			}
			if c.out == "json" {
				return c.printJSON(map[string]string{"kind": id.Kind.String(), "key": id.Key()})
			}
			fmt.Fprintf(c.w, "%s (%s)\n", id.Key(), c.app.Coordinator.Status())
			return nil
		},
	}
}

// ---- salida ----

type stateView struct {
	Status   string     `json:"status"`
	Owner    string     `json:"owner,omitempty"`
	Error    string     `json:"error,omitempty"`
	Kind     string     `json:"errorKind,omitempty"`
	Warning  string     `json:"warning,omitempty"`
	Items    []itemView `json:"items"`
	Count    int        `json:"itemCount"`
	Subtotal int64      `json:"subtotal"`
}

type itemView struct {
	ID        string `json:"id"`
	VariantID string `json:"variantId"`
	Quantity  int    `json:"quantity"`
	Price     int64  `json:"priceAtAdd"`
}

func viewOf(st cartstate.State) stateView {
	v := stateView{
		Status:   st.Status.String(),
		Owner:    st.Owner,
		Error:    st.Err,
		Kind:     string(st.ErrKind),
		Warning:  st.Warning,
		Items:    make([]itemView, 0, len(st.Cart.Items)),
		Count:    st.Cart.Summary.ItemCount,
		Subtotal: st.Cart.Summary.Subtotal,
	}
	for _, it := range st.Cart.Items {
		v.Items = append(v.Items, itemView{ID: it.ID, VariantID: it.VariantID, Quantity: it.Quantity, Price: it.PriceAtAdd})
	}
	return v
}

func (c *cli) printState(st cartstate.State) error {
	v := viewOf(st)
	if c.out == "json" {
		return c.printJSON(v)
	}
	if v.Owner != "" {
		fmt.Fprintf(c.w, "cart of %s [%s]\n", v.Owner, v.Status)
	} else {
		fmt.Fprintf(c.w, "cart [%s]\n", v.Status)
	}
	if v.Error != "" {
		fmt.Fprintf(c.w, "  error: %s\n", v.Error)
	}
	if v.Warning != "" {
		fmt.Fprintf(c.w, "  warning: %s\n", v.Warning)
	}
	if len(v.Items) == 0 {
		fmt.Fprintln(c.w, "  (empty)")
		return nil
	}
	for _, it := range v.Items {
		fmt.Fprintf(c.w, "  %-24s %-18s x%-3d %s\n", it.ID, it.VariantID, it.Quantity, money(it.Price))
	}
	fmt.Fprintf(c.w, "  %d item(s), subtotal %s\n", v.Count, money(v.Subtotal))
	return nil
}

func (c *cli) printTransition(tr coordinator.Transition) error {
	if c.out == "json" {
		return c.printJSON(map[string]any{
			"from":      tr.From.String(),
			"to":        tr.To.String(),
			"converted": tr.Converted,
			"warning":   tr.Warning,
			"cart":      viewOf(tr.Cart),
		})
	}
	fmt.Fprintf(c.w, "%s -> %s\n", tr.From, tr.To)
	if tr.Converted {
		fmt.Fprintln(c.w, "guest cart merged")
	}
	if tr.Warning != "" {
		fmt.Fprintf(c.w, "warning: %s\n", tr.Warning)
	}
	return c.printState(tr.Cart)
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// money formatea centavos.
func money(cents int64) string {
	sign := ""
	if cents < 0 {
		sign, cents = "-", -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

func envOr(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}
