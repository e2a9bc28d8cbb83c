// cmd/migrator/main.go
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/Ultrahd-dev/student-accounts/internal/config"
	"github.com/Ultrahd-dev/student-accounts/internal/users"
	"github.com/Ultrahd-dev/student-accounts/migrations"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "путь к файлу конфигурации")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		return
	}

	command := args[0]

	// Загружаем конфигурацию
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	// Подключаемся к базе данных
	db, err := sql.Open("postgres", cfg.Database.GetDSN())
	if err != nil {
		log.Fatalf("Ошибка подключения к базе данных: %v", err)
	}
	defer db.Close()

	// Проверяем подключение к БД
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("Ошибка проверки подключения к БД: %v", err)
	}

	log.Println("Успешное подключение к базе данных")

	if err := migrations.Setup(); err != nil {
		log.Fatalf("Ошибка настройки миграций: %v", err)
	}

	switch command {
	case "up":
		if err := goose.Up(db, "."); err != nil {
			log.Fatalf("Ошибка применения миграций: %v", err)
		}
		fmt.Println("Миграции успешно применены")
	case "down":
		if err := goose.Down(db, "."); err != nil {
			log.Fatalf("Ошибка отката миграций: %v", err)
		}
		fmt.Println("Миграции успешно откачены")
	case "status":
		if err := goose.Status(db, "."); err != nil {
			log.Fatalf("Ошибка получения статуса миграций: %v", err)
		}
	case "createsuperuser":
		createSuperuser(db, cfg, args[1:])
	default:
		fmt.Printf("Неизвестная команда: %s\n", command)
		flag.Usage()
		os.Exit(2)
	}
}

// createSuperuser создает учетную запись с правами суперпользователя
func createSuperuser(db *sql.DB, cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("createsuperuser", flag.ExitOnError)
	email := fs.String("email", "", "email суперпользователя")
	phone := fs.String("phone", "", "номер телефона (7-10 цифр)")
	firstName := fs.String("first", "", "имя")
	lastName := fs.String("last", "", "фамилия")
	password := fs.String("password", os.Getenv("SUPERUSER_PASSWORD"), "пароль (или SUPERUSER_PASSWORD)")
	if err := fs.Parse(args); err != nil {
		log.Fatalf("Ошибка разбора аргументов: %v", err)
	}
	if *email == "" || *phone == "" || *password == "" {
		fs.Usage()
		os.Exit(2)
	}

	userService := users.NewService(users.NewRepository(db), users.WithHashCost(cfg.Auth.BcryptCost))
	user, err := userService.CreateSuperuser(context.Background(), users.CreateUserInput{
		Email:       *email,
		FirstName:   *firstName,
		LastName:    *lastName,
		PhoneNumber: *phone,
		Password:    *password,
	})
	if err != nil {
		log.Fatalf("Ошибка создания суперпользователя: %v", err)
	}
	fmt.Printf("Суперпользователь %s создан (id %s)\n", user.Email, user.ID)
}

func usage() {
	fmt.Println("Использование: migrator [-config FILE] [команда]")
	fmt.Println("Доступные команды:")
	fmt.Println("  up              - Применить все непримененные миграции")
	fmt.Println("  down            - Откатить последнюю миграцию")
	fmt.Println("  status          - Показать статус миграций")
	fmt.Println("  createsuperuser - Создать суперпользователя")
	fmt.Println("")
	fmt.Println("Примеры:")
	fmt.Println("  migrator up")
	fmt.Println("  migrator status")
	fmt.Println("  migrator createsuperuser -email admin@example.com -phone 5550100 -first Ada -last Admin -password secret")
}
