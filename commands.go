package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/minicomment/captcha"
	"github.com/cppla/minicomment/config"
	"github.com/cppla/minicomment/controllers"
	"github.com/cppla/minicomment/models"
	"github.com/cppla/minicomment/repository"
	"github.com/cppla/minicomment/routes"
	"github.com/cppla/minicomment/utils"
)

func newRootCmd(cfg config.AppConfig) *cobra.Command {
	root := &cobra.Command{
		Use:           "minicomment",
		Short:         "Anonymous comments and stars for static sites, gated by an image captcha",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfg)
		},
	}
	root.PersistentFlags().StringVar(&cfg.DBPath, "db", cfg.DBPath, "sqlite database file")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfg)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "delete-comment <id>",
		Short: "Remove a single comment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid comment id %q", args[0])
			}
			repo, err := openRepository(cfg)
			if err != nil {
				return err
			}
			if err := repo.DeleteComment(cmd.Context(), uint(id)); err != nil {
				return err
			}
			newPostCache(cfg).InvalidateAll(cmd.Context())
			utils.Sugar.Infow("comment deleted", "id", id)
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "delete-post <identifier>",
		Short: "Remove a post and all of its comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepository(cfg)
			if err != nil {
				return err
			}
			if err := repo.DeletePost(cmd.Context(), args[0]); err != nil {
				return err
			}
			newPostCache(cfg).Invalidate(cmd.Context(), args[0])
			utils.Sugar.Infow("post deleted", "post", args[0])
			return nil
		},
	})

	return root
}

func openDatabase(cfg config.AppConfig) (*gorm.DB, error) {
	return config.OpenDatabase(cfg, &models.Post{}, &models.Comment{})
}

func openRepository(cfg config.AppConfig) (*repository.PostRepository, error) {
	db, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}
	return repository.NewPostRepository(db), nil
}

func newPostCache(cfg config.AppConfig) *utils.PostCache {
	return utils.NewPostCache(utils.GetRedis(), time.Duration(cfg.PostCacheTTLSec)*time.Second)
}

func newChallengeStore(cfg config.AppConfig) (*captcha.Store, error) {
	ttl := time.Duration(cfg.CaptchaTTLSec) * time.Second
	var backend captcha.Backend
	switch cfg.CaptchaStore {
	case "redis":
		rc := utils.GetRedis()
		if rc == nil {
			return nil, fmt.Errorf("captcha store is redis but redis is disabled")
		}
		backend = captcha.NewRedisBackend(rc, ttl)
	case "memory", "":
		backend = captcha.NewMemoryBackend(ttl)
	default:
		return nil, fmt.Errorf("unsupported captcha store %q", cfg.CaptchaStore)
	}
	return captcha.NewStore(backend, captcha.Options{
		Length: cfg.CaptchaLength,
		Width:  cfg.CaptchaWidth,
		Height: cfg.CaptchaHeight,
		Logger: utils.Logger.With(zap.String("component", "captcha")),
	}), nil
}

func serve(ctx context.Context, cfg config.AppConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	repo, err := openRepository(cfg)
	if err != nil {
		return err
	}
	challenges, err := newChallengeStore(cfg)
	if err != nil {
		return err
	}
	challenges.StartSweeper(ctx, time.Duration(cfg.CaptchaSweepSec)*time.Second)

	comments := controllers.NewCommentController(repo, challenges, newPostCache(cfg))
	r := routes.SetupRouter(cfg, comments)

	utils.Sugar.Infof("minicomment is running at port %s", cfg.AppPort)
	return utils.GraceServer(ctx, ":"+cfg.AppPort, r)
}
