// Command storefront is a terminal client: it keeps the cart on local
// storage and checks it out against order-service.
//
//	storefront add -product ID [-qty N] [-merchant-name NAME]
//	storefront remove -product ID -merchant ID
//	storefront set -product ID -merchant ID -qty N
//	storefront show
//	storefront clear
//	storefront checkout -city CITY -pincode PIN [-street S] [-state S] [-payment cod|online]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/MikeMC777/hyperlocal-delivery/internal/cart"
	"github.com/MikeMC777/hyperlocal-delivery/internal/checkout"
	"github.com/MikeMC777/hyperlocal-delivery/internal/config"
	"github.com/MikeMC777/hyperlocal-delivery/internal/logging"
	"github.com/MikeMC777/hyperlocal-delivery/internal/order"
	"github.com/MikeMC777/hyperlocal-delivery/internal/pricing"
)

type catalog interface {
	FetchProduct(ctx context.Context, id string) (*order.ProductDTO, error)
}

type app struct {
	cart    *cart.Store
	catalog catalog
	flow    *checkout.Workflow
	out     io.Writer
}

func openStorage(cfg config.Storefront) (cart.Storage, error) {
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("STOREFRONT_REDIS_URL: %w", err)
		}
		return cart.NewRedisStorage(redis.NewClient(opt), ""), nil
	}
	return cart.NewFileStorage(cfg.CartDir)
}

func main() {
	cfg := config.LoadStorefront()
	log, err := logging.New("dev", os.Getenv("LOG_LEVEL"))
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	storage, err := openStorage(cfg)
	if err != nil {
		log.Fatal("cart storage", zap.Error(err))
	}
	store := cart.NewStore(storage, cart.WithLogger(log))
	a := &app{
		cart:    store,
		catalog: order.NewExt(cfg.CatalogURL),
		flow:    checkout.New(store, checkout.NewHTTPSubmitter(cfg.APIBaseURL, cfg.Token), pricing.DefaultPolicy(), log),
		out:     os.Stdout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := a.run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func (a *app) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: storefront add|remove|set|show|clear|checkout [flags]")
	}
	cmd, args := args[0], args[1:]
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	switch cmd {
	case "add":
		productID := fs.String("product", "", "product id")
		qty := fs.Int("qty", 1, "quantity")
		merchantName := fs.String("merchant-name", "", "merchant display name")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *productID == "" {
			return errors.New("-product is required")
		}
		p, err := a.catalog.FetchProduct(ctx, *productID)
		if err != nil {
			return err
		}
		if !p.IsAvailable {
			return fmt.Errorf("%s is currently unavailable", p.Name)
		}
		m := cart.Merchant{ID: p.MerchantID, Name: *merchantName}
		if err := a.cart.AddItem(cart.Product{ID: p.ID, Name: p.Name, Price: p.Price}, m, *qty); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "added %s (cart: %d items)\n", p.Name, a.cart.ItemCount())
		return nil

	case "remove", "set":
		productID := fs.String("product", "", "product id")
		merchantID := fs.String("merchant", "", "merchant id")
		qty := fs.Int("qty", 0, "quantity (set only)")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *productID == "" || *merchantID == "" {
			return errors.New("-product and -merchant are required")
		}
		if cmd == "remove" {
			return a.cart.RemoveItem(*productID, *merchantID)
		}
		return a.cart.SetQuantity(*productID, *merchantID, *qty)

	case "clear":
		return a.cart.Clear()

	case "show":
		return a.show()

	case "checkout":
		var addr order.Address
		fs.StringVar(&addr.Street, "street", "", "street")
		fs.StringVar(&addr.City, "city", "", "city")
		fs.StringVar(&addr.State, "state", "", "state")
		fs.StringVar(&addr.Pincode, "pincode", "", "pincode")
		payment := fs.String("payment", "cod", "cod or online")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return a.checkout(ctx, addr, *payment)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func (a *app) show() error {
	if a.cart.IsEmpty() {
		fmt.Fprintln(a.out, "cart is empty")
		return nil
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	for _, g := range a.cart.Groups() {
		name := g.Merchant.Name
		if name == "" {
			name = g.Merchant.ID
		}
		fmt.Fprintf(tw, "%s\t\t\t\n", name)
		lines := make([]pricing.Line, 0, len(g.Lines))
		for _, l := range g.Lines {
			fmt.Fprintf(tw, "  %s\t%d x %s\t\n", l.Product.Name, l.Quantity, l.Product.Price.StringFixed(2))
			lines = append(lines, pricing.Line{UnitPrice: l.Product.Price, Quantity: l.Quantity})
		}
		t, err := a.flow.Pricing.Compute(lines, nil)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "  subtotal %s\tdelivery %s\ttotal %s\n",
			t.Subtotal.StringFixed(2), t.DeliveryFee.StringFixed(2), t.Total.StringFixed(2))
	}
	fmt.Fprintf(tw, "items: %d\tcart total (before delivery): %s\t\n", a.cart.ItemCount(), a.cart.Total().StringFixed(2))
	return tw.Flush()
}

func (a *app) checkout(ctx context.Context, addr order.Address, payment string) error {
	res, err := a.flow.Checkout(ctx, addr, payment)
	var partial *checkout.PartialCheckoutError
	switch {
	case errors.As(err, &partial):
		a.printOrders(partial.Placed)
		for _, f := range partial.Failed {
			fmt.Fprintf(a.out, "FAILED %s: %v\n", f.Merchant.ID, f.Err)
		}
		return fmt.Errorf("%d merchant order(s) failed; they remain in your cart", len(partial.Failed))
	case err != nil:
		return err
	}
	a.printOrders(res.Orders)
	return nil
}

func (a *app) printOrders(orders []order.Order) {
	for _, o := range orders {
		fmt.Fprintf(a.out, "%s  merchant=%s  subtotal=%s  delivery=%s  total=%s  eta=%s\n",
			o.OrderNumber, o.MerchantID, o.Subtotal.StringFixed(2), o.DeliveryFee.StringFixed(2),
			o.Total.StringFixed(2), o.EstimatedDeliveryTime)
	}
}
