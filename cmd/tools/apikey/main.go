package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"

	"jeesi/api"
	"jeesi/internal/auth"
	"jeesi/internal/config"
	"jeesi/internal/credits"
	"jeesi/internal/infra"
)

// options 命令行参数
type options struct {
	userID     string
	keyName    string
	grant      int64
	plan       string
	resetMonth bool
}

// validate 针对单个用户的操作都必须指定 -user
func (o options) validate() error {
	if o.grant < 0 {
		return errors.New("-grant 不能为负数")
	}
	perUser := o.keyName != "" || o.grant > 0 || o.plan != ""
	if perUser && o.userID == "" {
		return errors.New("-issue、-grant、-plan 必须同时指定 -user")
	}
	if !perUser && !o.resetMonth {
		return errors.New("未指定任何操作：使用 -issue、-grant、-plan 或 -reset-month")
	}
	return nil
}

func main() {
	env := flag.String("env", "dev", "配置环境 dev/prod/test")
	userID := flag.String("user", "", "目标用户 ID")
	keyName := flag.String("issue", "", "签发一个指定名称的 API Key")
	grant := flag.Int64("grant", 0, "增加的积分数量")
	plan := flag.String("plan", "", "同时设置订阅档位 free/starter/pro/business")
	resetMonth := flag.Bool("reset-month", false, "清零跨月账户的本月用量")
	flag.Parse()

	opts := options{
		userID:     *userID,
		keyName:    *keyName,
		grant:      *grant,
		plan:       *plan,
		resetMonth: *resetMonth,
	}
	if err := opts.validate(); err != nil {
		log.Fatal(err)
	}

	cfg, err := config.Load(*env, "")
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	db, err := infra.InitDatabase(&cfg.Database)
	if err != nil {
		log.Fatalf("初始化数据库失败: %v", err)
	}
	defer infra.CloseDatabase()

	if cfg.Database.AutoMigrate {
		if err := api.AutoMigrateDB(db); err != nil {
			log.Fatalf("数据库迁移失败: %v", err)
		}
	}

	ctx := context.Background()
	creditService := credits.NewService(db, credits.Config{
		DefaultCredits: cfg.Credits.DefaultCredits,
		DefaultPlan:    credits.PlanType(cfg.Credits.DefaultPlan),
	})

	if *resetMonth {
		n, err := creditService.ResetMonthlyUsage(ctx)
		if err != nil {
			log.Fatalf("重置本月用量失败: %v", err)
		}
		fmt.Printf("已重置 %d 个账户的本月用量\n", n)
	}

	if *grant > 0 || *plan != "" {
		balance, err := creditService.Grant(ctx, *userID, *grant, credits.PlanType(*plan))
		if err != nil {
			log.Fatalf("增加积分失败: %v", err)
		}
		fmt.Printf("用户 %s 当前余额 %d（档位 %s）\n", balance.UserID, balance.CreditsRemaining, balance.PlanType)
	}

	if *keyName != "" {
		issued, err := auth.NewAPIKeyService(db).IssueAPIKey(ctx, *userID, *keyName)
		if err != nil {
			log.Fatalf("签发 API Key 失败: %v", err)
		}
		fmt.Printf("API Key 已签发（只显示这一次）:\n  id:  %s\n  key: %s\n", issued.ID, issued.Key)
	}
}
