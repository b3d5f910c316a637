package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cpunion/cast-bot/pkg/feed"
	"github.com/cpunion/cast-bot/pkg/types"
)

const usage = `Usage: forum [-data path] <command> [flags]

Commands:
  register -id ID -handle HANDLE [-name NAME]
  post     -as HANDLE -text TEXT [-reply-to POST_ID]
  follow   -as HANDLE -whom HANDLE
  list     [-n 20]
  thread   -id POST_ID
  mentions -as HANDLE [-n 20]
`

func main() {
	dataPath := flag.String("data", "./data/forum.json", "Forum data file")
	maxLen := flag.Int("max-len", feed.DefaultMaxPostLength, "Maximum post length")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	if err := os.MkdirAll(filepath.Dir(*dataPath), 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}
	forum, err := feed.OpenForum(feed.ForumConfig{Path: *dataPath, MaxPostLength: *maxLen})
	if err != nil {
		log.Fatalf("Failed to open forum: %v", err)
	}

	ctx := context.Background()
	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "register":
		err = runRegister(forum, args)
	case "post":
		err = runPost(ctx, forum, args)
	case "follow":
		err = runFollow(ctx, forum, args)
	case "list":
		err = runList(forum, args)
	case "thread":
		err = runThread(forum, args)
	case "mentions":
		err = runMentions(ctx, forum, args)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

func runRegister(forum *feed.Forum, args []string) error {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	id := fs.String("id", "", "Author id")
	handle := fs.String("handle", "", "Author handle")
	name := fs.String("name", "", "Display name")
	fs.Parse(args)

	if *name == "" {
		*name = *handle
	}
	if err := forum.RegisterAuthor(types.Author{ID: *id, Handle: *handle, DisplayName: *name}); err != nil {
		return err
	}
	fmt.Printf("Registered @%s (%s)\n", strings.TrimPrefix(*handle, "@"), *id)
	return nil
}

func resolve(ctx context.Context, forum *feed.Forum, handle string) (*types.Author, error) {
	if handle == "" {
		return nil, fmt.Errorf("a handle is required")
	}
	return forum.LookupAuthor(ctx, strings.TrimPrefix(handle, "@"), "")
}

func runPost(ctx context.Context, forum *feed.Forum, args []string) error {
	fs := flag.NewFlagSet("post", flag.ExitOnError)
	as := fs.String("as", "", "Handle of the author")
	text := fs.String("text", "", "Post text")
	replyTo := fs.String("reply-to", "", "Parent post id")
	fs.Parse(args)

	author, err := resolve(ctx, forum, *as)
	if err != nil {
		return err
	}
	p, err := forum.Publish(author.ID, *text, *replyTo)
	if err != nil {
		return err
	}
	fmt.Println(p.ID)
	return nil
}

func runFollow(ctx context.Context, forum *feed.Forum, args []string) error {
	fs := flag.NewFlagSet("follow", flag.ExitOnError)
	as := fs.String("as", "", "Handle of the follower")
	whom := fs.String("whom", "", "Handle to follow")
	fs.Parse(args)

	follower, err := resolve(ctx, forum, *as)
	if err != nil {
		return err
	}
	followee, err := resolve(ctx, forum, *whom)
	if err != nil {
		return err
	}
	return forum.Follow(follower.ID, followee.ID)
}

func runList(forum *feed.Forum, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	n := fs.Int("n", 20, "Number of posts")
	fs.Parse(args)

	posts, err := forum.Recent(*n)
	if err != nil {
		return err
	}
	printPosts(posts)
	return nil
}

func runThread(forum *feed.Forum, args []string) error {
	fs := flag.NewFlagSet("thread", flag.ExitOnError)
	id := fs.String("id", "", "Post id")
	fs.Parse(args)

	thread, err := forum.Thread(*id)
	if err != nil {
		return err
	}
	replies, err := forum.Replies(*id)
	if err != nil {
		return err
	}
	printPosts(thread)
	if len(replies) > 0 {
		fmt.Printf("--- %d direct replies ---\n", len(replies))
		printPosts(replies)
	}
	return nil
}

func runMentions(ctx context.Context, forum *feed.Forum, args []string) error {
	fs := flag.NewFlagSet("mentions", flag.ExitOnError)
	as := fs.String("as", "", "Handle of the mentioned account")
	n := fs.Int("n", 20, "Number of posts")
	fs.Parse(args)

	author, err := resolve(ctx, forum, *as)
	if err != nil {
		return err
	}
	posts, err := forum.GetMentions(ctx, author.ID, *n)
	if err != nil {
		return err
	}
	printPosts(posts)
	return nil
}

func printPosts(posts []types.Post) {
	for _, p := range posts {
		parent := ""
		if p.Parent != nil {
			parent = " -> " + p.Parent.ID
		}
		fmt.Printf("%s  @%s  %s%s\n  %s\n", p.ID, p.Author.Handle, p.CreatedAt.Local().Format(time.DateTime), parent, p.Text)
	}
}
